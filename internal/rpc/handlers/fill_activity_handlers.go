package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/floorline/floornode/internal/db"
	"github.com/floorline/floornode/internal/market/marketdb"
)

type FillActivityResponse struct {
	PaginatedResponse
	Data []*marketdb.FillActivity `json:"data"`
}

var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// FillActivityGetHandler serves the fills feed.
//
//	/api/v1/fills                  => all fills, time-ordered
//	/api/v1/fills/{contract}       => fills of one collection
//	/api/v1/fills/{contract}/{id}  => fills of one token
//	?maker=0x...                   => restrict any of the above to one maker
func FillActivityGetHandler(r *http.Request, rq db.QueryRunner) (interface{}, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	contract := ""
	tokenID := ""
	if len(parts) > 3 && addressRegex.MatchString(parts[3]) {
		contract = strings.ToLower(parts[3])
	}
	if len(parts) > 4 {
		tokenID = parts[4]
	}

	var conditions []string
	var queryParams []interface{}

	if contract != "" {
		conditions = append(conditions, "contract = ?")
		queryParams = append(queryParams, contract)
	}
	if contract != "" && tokenID != "" {
		conditions = append(conditions, "token_id = ?")
		queryParams = append(queryParams, tokenID)
	}
	if maker := r.URL.Query().Get("maker"); maker != "" && addressRegex.MatchString(maker) {
		conditions = append(conditions, "maker = ?")
		queryParams = append(queryParams, strings.ToLower(maker))
	}

	return fillActivityQueryHandler(r, rq, strings.Join(conditions, " AND "), queryParams)
}

func fillActivityQueryHandler(r *http.Request, rq db.QueryRunner, query string, queryParams []interface{}) (FillActivityResponse, error) {
	page, pageSize, _ := ExtractPagination(r)
	queryOptions := db.QueryOptions{
		Where:     query,
		PageSize:  pageSize,
		Page:      page,
		Direction: db.QueryDirectionDesc,
	}

	total, fills, err := marketdb.GetFillActivityPage(rq, queryOptions, queryParams)
	if err != nil {
		return FillActivityResponse{}, err
	}

	resp := FillActivityResponse{
		PaginatedResponse: PaginatedResponse{
			Page:     page,
			PageSize: pageSize,
		},
		Data: fills,
	}

	resp.ReturnPaginatedData(r, total)

	return resp, nil
}
