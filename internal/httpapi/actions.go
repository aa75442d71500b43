package httpapi

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"listing_filter/internal/bulk"
	"listing_filter/internal/domain"
	"listing_filter/internal/filter"
)

// actionRequest is the union of every action's fields.
type actionRequest struct {
	Action string `json:"action"`

	ProductID  any    `json:"productId"`
	ProductIDs []any  `json:"productIds"`
	MallName   string `json:"mallName"`

	FilterType string `json:"filterType"`
	Scope      string `json:"scope"`
	Query      string `json:"query"`
	ActiveOnly bool   `json:"activeOnly"`
	Limit      int    `json:"limit"`

	ProductTitle       string `json:"productTitle"`
	ProductDescription string `json:"productDescription"`
	TargetMall         string `json:"targetMall"`
	TargetCountry      string `json:"targetCountry"`

	ID       any    `json:"id"`
	IDs      []any  `json:"ids"`
	Keyword  string `json:"keyword"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Active   *bool  `json:"active"`
	Note     string `json:"note"`
}

// actionFunc returns the response message and data of one action.
type actionFunc func(c echo.Context, req actionRequest) (string, any, error)

func (s *Server) actionTable() map[string]actionFunc {
	table := map[string]actionFunc{
		"execute_mall_filter":       s.executeMallFilter,
		"execute_export_filter":     s.executeExportFilter,
		"execute_patent_filter":     s.executePatentFilter,
		"clear_mall_filter":         s.clearMallFilter,
		"get_product":               s.getProduct,
		"get_filter_data":           s.getFilterData,
		"get_statistics":            s.getStatistics,
		"get_audit_logs":            s.getAuditLogs,
		"add_keyword":               s.addKeyword,
		"update_keyword":            s.updateKeyword,
		"delete_keywords":           s.deleteKeywords,
		"execute_integrated_filter": s.executeIntegratedFilter,
	}
	for _, op := range []string{bulk.OpApprove, bulk.OpReject, bulk.OpSetMall, bulk.OpResetFilters, bulk.OpDelete} {
		table[op] = s.bulkAction
	}
	return table
}

func productID(req actionRequest) (uint, error) {
	return singleID("productId", req.ProductID)
}

func singleID(field string, v any) (uint, error) {
	if v == nil {
		return 0, domain.Invalid("%s is required", field)
	}
	ids, err := bulk.ParseIDList(field, []any{v})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (s *Server) executeMallFilter(c echo.Context, req actionRequest) (string, any, error) {
	id, err := productID(req)
	if err != nil {
		return "", nil, err
	}
	p, err := s.deps.Service.ExecuteMallFilter(c.Request().Context(), id, req.MallName)
	if err != nil {
		return "", nil, err
	}
	return "mall filter executed", p, nil
}

func (s *Server) executeExportFilter(c echo.Context, req actionRequest) (string, any, error) {
	id, err := productID(req)
	if err != nil {
		return "", nil, err
	}
	p, err := s.deps.Service.ExecuteExportFilter(c.Request().Context(), id)
	if err != nil {
		return "", nil, err
	}
	return "export filter executed", p, nil
}

func (s *Server) executePatentFilter(c echo.Context, req actionRequest) (string, any, error) {
	id, err := productID(req)
	if err != nil {
		return "", nil, err
	}
	p, err := s.deps.Service.ExecutePatentFilter(c.Request().Context(), id)
	if err != nil {
		return "", nil, err
	}
	return "patent troll filter executed", p, nil
}

func (s *Server) clearMallFilter(c echo.Context, req actionRequest) (string, any, error) {
	id, err := productID(req)
	if err != nil {
		return "", nil, err
	}
	p, err := s.deps.Service.ClearMallFilter(c.Request().Context(), id)
	if err != nil {
		return "", nil, err
	}
	return "mall filter cleared", p, nil
}

func (s *Server) getProduct(c echo.Context, req actionRequest) (string, any, error) {
	id, err := productID(req)
	if err != nil {
		return "", nil, err
	}
	p, err := s.deps.Service.GetProduct(c.Request().Context(), id)
	if err != nil {
		return "", nil, err
	}
	return "", p, nil
}

func (s *Server) getFilterData(c echo.Context, req actionRequest) (string, any, error) {
	if req.FilterType == "" {
		return "", nil, domain.Invalid("filterType is required")
	}
	data, err := s.deps.Service.GetFilterData(c.Request().Context(), filter.FilterDataQuery{
		FilterType: req.FilterType,
		Scope:      req.Scope,
		Query:      req.Query,
		ActiveOnly: req.ActiveOnly,
		Limit:      req.Limit,
	})
	if err != nil {
		return "", nil, err
	}
	return "", data, nil
}

func (s *Server) getStatistics(c echo.Context, _ actionRequest) (string, any, error) {
	stats, err := s.deps.Service.Statistics(c.Request().Context())
	if err != nil {
		return "", nil, err
	}
	return "", stats, nil
}

func (s *Server) getAuditLogs(c echo.Context, req actionRequest) (string, any, error) {
	records, err := s.deps.Service.AuditLogs(c.Request().Context(), req.Limit)
	if err != nil {
		return "", nil, err
	}
	return "", records, nil
}

func (s *Server) keywordInput(req actionRequest) filter.KeywordInput {
	return filter.KeywordInput{
		Keyword:  req.Keyword,
		Type:     req.Type,
		Scope:    req.Scope,
		Priority: req.Priority,
		Active:   req.Active,
		Note:     req.Note,
	}
}

func (s *Server) addKeyword(c echo.Context, req actionRequest) (string, any, error) {
	kw, err := s.deps.Service.AddKeyword(c.Request().Context(), s.keywordInput(req))
	if err != nil {
		return "", nil, err
	}
	return "keyword added", kw, nil
}

func (s *Server) updateKeyword(c echo.Context, req actionRequest) (string, any, error) {
	id, err := singleID("id", req.ID)
	if err != nil {
		return "", nil, err
	}
	in := s.keywordInput(req)
	in.ID = id
	kw, err := s.deps.Service.UpdateKeyword(c.Request().Context(), in)
	if err != nil {
		return "", nil, err
	}
	return "keyword updated", kw, nil
}

func (s *Server) deleteKeywords(c echo.Context, req actionRequest) (string, any, error) {
	ids, err := bulk.ParseIDList("ids", req.IDs)
	if err != nil {
		return "", nil, err
	}
	n, err := s.deps.Service.DeleteKeywords(c.Request().Context(), ids)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%d keywords deleted", n), map[string]int64{"deleted_count": n}, nil
}

func (s *Server) executeIntegratedFilter(c echo.Context, req actionRequest) (string, any, error) {
	res, err := s.deps.Integrated.Run(c.Request().Context(), filter.IntegratedRequest{
		Title:         req.ProductTitle,
		Description:   req.ProductDescription,
		TargetMall:    req.TargetMall,
		TargetCountry: req.TargetCountry,
	})
	if err != nil {
		return "", nil, err
	}
	return "", res, nil
}

func (s *Server) bulkAction(c echo.Context, req actionRequest) (string, any, error) {
	res, err := s.deps.Bulk.ExecuteRaw(c.Request().Context(), req.Action, req.ProductIDs, req.MallName, operator(c))
	if err != nil {
		return "", nil, err
	}
	return res.Message, res, nil
}
