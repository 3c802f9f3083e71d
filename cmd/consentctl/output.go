package main

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

func (c *cli) print(v any, text func(w io.Writer)) error {
	if c.format == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}

type auditView struct {
	ID             string    `json:"id"`
	ConsentID      string    `json:"consent_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	Reason         string    `json:"reason"`
	ActionBy       string    `json:"action_by"`
	ActionTime     time.Time `json:"action_time"`
}

func auditViews(records []*models.StatusAuditRecord) []auditView {
	out := make([]auditView, 0, len(records))
	for _, r := range records {
		out = append(out, auditView{
			ID:             r.ID.String(),
			ConsentID:      r.ConsentID.String(),
			Status:         string(r.Status),
			PreviousStatus: string(r.PreviousStatus),
			Reason:         string(r.Reason),
			ActionBy:       r.ActionBy.String(),
			ActionTime:     r.ActionTime,
		})
	}
	return out
}

type mappingView struct {
	ID              string `json:"id"`
	AuthorizationID string `json:"authorization_id"`
	AccountID       string `json:"account_id"`
	Permission      string `json:"permission"`
	Status          string `json:"status"`
}

type authorizationView struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

type consentView struct {
	ID             string              `json:"id"`
	ClientID       string              `json:"client_id"`
	ConsentType    string              `json:"consent_type"`
	Status         string              `json:"status"`
	ValidityPeriod int64               `json:"validity_period"`
	Receipt        json.RawMessage     `json:"receipt,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Attributes     map[string]string   `json:"attributes,omitempty"`
	Authorizations []authorizationView `json:"authorizations"`
	Mappings       []mappingView       `json:"mappings"`
}

func (v consentView) activeMappings() int {
	n := 0
	for _, m := range v.Mappings {
		if m.Status == string(models.MappingActive) {
			n++
		}
	}
	return n
}

type historyView struct {
	HistoryID   string      `json:"history_id"`
	Reason      string      `json:"reason"`
	EffectiveAt time.Time   `json:"effective_at"`
	Consent     consentView `json:"consent"`
}

// historyViews orders reconstructed states oldest first.
func historyViews(history map[id.HistoryID]*models.HistoricalConsent) []historyView {
	out := make([]historyView, 0, len(history))
	for _, h := range history {
		out = append(out, historyView{
			HistoryID:   h.HistoryID.String(),
			Reason:      string(h.Reason),
			EffectiveAt: h.EffectiveAt,
			Consent:     newConsentView(h.Consent),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectiveAt.Equal(out[j].EffectiveAt) {
			return out[i].HistoryID < out[j].HistoryID
		}
		return out[i].EffectiveAt.Before(out[j].EffectiveAt)
	})
	return out
}

func newConsentView(d *models.DetailedConsent) consentView {
	v := consentView{
		ID:             d.ID.String(),
		ClientID:       d.ClientID.String(),
		ConsentType:    d.ConsentType,
		Status:         string(d.Status),
		ValidityPeriod: d.ValidityPeriod,
		UpdatedAt:      d.UpdatedAt,
		Attributes:     d.Attributes,
	}
	if json.Valid(d.Receipt.Data) {
		v.Receipt = d.Receipt.Data
	}
	for _, a := range d.Authorizations {
		v.Authorizations = append(v.Authorizations, authorizationView{
			ID:     a.ID.String(),
			Type:   string(a.Type),
			Status: string(a.Status),
			UserID: a.UserID.String(),
		})
	}
	for _, m := range d.Mappings {
		v.Mappings = append(v.Mappings, mappingView{
			ID:              m.ID.String(),
			AuthorizationID: m.AuthorizationID.String(),
			AccountID:       m.AccountID,
			Permission:      m.Permission,
			Status:          string(m.Status),
		})
	}
	return v
}
