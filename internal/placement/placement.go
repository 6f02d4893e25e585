// Package placement tracks the Bitrix24 placement that opened the app: the
// portal credentials and the CRM entity the widget is embedded in.
package placement

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Placement codes handled by the widget.
const (
	DealDetailTab  = "CRM_DEAL_DETAIL_TAB"
	QuoteDetailTab = "CRM_QUOTE_DETAIL_TAB"
	DefaultView    = "DEFAULT"
)

// Placement is the launch context posted by the portal.
type Placement struct {
	Domain      string         `json:"domain" validate:"required"`
	AuthID      string         `json:"-" validate:"required"`
	RefreshID   string         `json:"-"`
	AuthExpires int            `json:"authExpires,omitempty"`
	MemberID    string         `json:"memberId"`
	Code        string         `json:"placement"`
	Options     map[string]any `json:"options"`
}

// DealID is the deal the widget is opened on, or 0.
func (p Placement) DealID() int64 {
	if p.Code != DealDetailTab {
		return 0
	}
	return p.optionID()
}

// QuoteID is the quote the widget is opened on, or 0.
func (p Placement) QuoteID() int64 {
	if p.Code != QuoteDetailTab {
		return 0
	}
	return p.optionID()
}

func (p Placement) optionID() int64 {
	switch v := p.Options["ID"].(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return id
	}
	return 0
}

// FromRequest reads the placement fields from the form or query.
// A malformed PLACEMENT_OPTIONS value is logged and treated as empty.
func FromRequest(r *http.Request, logger *slog.Logger) Placement {
	_ = r.ParseForm()
	p := Placement{
		Domain:    strings.TrimSpace(r.Form.Get("DOMAIN")),
		AuthID:    r.Form.Get("AUTH_ID"),
		RefreshID: r.Form.Get("REFRESH_ID"),
		MemberID:  r.Form.Get("member_id"),
		Code:      r.Form.Get("PLACEMENT"),
		Options:   map[string]any{},
	}
	if p.Code == "" {
		p.Code = DefaultView
	}
	if v, err := strconv.Atoi(r.Form.Get("AUTH_EXPIRES")); err == nil {
		p.AuthExpires = v
	}
	if raw := r.Form.Get("PLACEMENT_OPTIONS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Options); err != nil {
			if logger != nil {
				logger.Warn("malformed placement options", slog.String("placement", p.Code), slog.Any("error", err))
			}
			p.Options = map[string]any{}
		}
	}
	return p
}
