package notices_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/broker/messages"
	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/reports"
	"github.com/BearBump/NoticeBox/internal/services/notices"
)

type NoticesAPI struct {
	svc *notices.Service
}

func New(svc *notices.Service) *NoticesAPI {
	return &NoticesAPI{svc: svc}
}

// Routes навешивает все обработчики на роутер.
func (a *NoticesAPI) Routes(r chi.Router) {
	r.Post("/attempts", a.createAttempts)
	r.Get("/attempts/results", a.getResults)
	r.Get("/attempts/{id}/timeline", a.listTimeline)
	r.Post("/attempts/{id}/refresh", a.refreshAttempt)
	r.Get("/channels/{id}/stats", a.channelStats)
	r.Post("/reports/preview", a.previewReport)
	r.Post("/reports", a.ingestReport)
	r.Post("/submissions/import", a.importSubmissions)
	r.Get("/barcode-removals", a.barcodeRemovals)
}

type attemptInput struct {
	PatronID      string    `json:"patronId,omitempty"`
	PatronBarcode string    `json:"patronBarcode"`
	Category      string    `json:"category"`
	Channel       int32     `json:"channel"`
	Destination   string    `json:"destination"`
	AttemptedAt   time.Time `json:"attemptedAt,omitempty"`
	ItemBarcode   *string   `json:"itemBarcode,omitempty"`
}

type attemptView struct {
	ID            uint64    `json:"id"`
	PatronID      string    `json:"patronId,omitempty"`
	PatronBarcode string    `json:"patronBarcode"`
	Category      string    `json:"category"`
	Channel       int32     `json:"channel"`
	Destination   string    `json:"destination"`
	AttemptedAt   time.Time `json:"attemptedAt"`
	ItemBarcode   *string   `json:"itemBarcode,omitempty"`
	Status        string    `json:"status"`
	NextVerifyAt  time.Time `json:"nextVerifyAt"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (a *NoticesAPI) createAttempts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []attemptInput `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	in := make([]models.AttemptCreateInput, 0, len(req.Items))
	for _, it := range req.Items {
		in = append(in, models.AttemptCreateInput{
			PatronID:      it.PatronID,
			PatronBarcode: it.PatronBarcode,
			Category:      it.Category,
			Channel:       models.ChannelID(it.Channel),
			Destination:   it.Destination,
			AttemptedAt:   it.AttemptedAt,
			ItemBarcode:   it.ItemBarcode,
		})
	}

	ats, err := a.svc.CreateAttempts(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": toViews(ats)})
}

func (a *NoticesAPI) getResults(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rs, err := a.svc.GetResultsByAttemptIDs(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rs})
}

func (a *NoticesAPI) listTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	evs, err := a.svc.ListTimeline(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (a *NoticesAPI) refreshAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	if err := a.svc.RefreshAttempt(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": true})
}

func (a *NoticesAPI) channelStats(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := a.svc.ChannelStatistics(r.Context(), models.ChannelID(ch), from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type reportRequest struct {
	MessageID  string    `json:"messageId,omitempty"`
	Subject    string    `json:"subject"`
	From       string    `json:"from,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
	Body       string    `json:"body"`
}

func (a *NoticesAPI) previewReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	kind, recs, sum := a.svc.PreviewReport(reports.ReportMeta{
		MessageID:  req.MessageID,
		Subject:    req.Subject,
		From:       req.From,
		ReceivedAt: req.ReceivedAt,
	}, req.Body)

	out := map[string]any{
		"kind":     kind,
		"failures": toFailureViews(recs),
	}
	if sum != nil {
		out["summary"] = sum
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *NoticesAPI) ingestReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	kind, n, err := a.svc.IngestReport(r.Context(), messages.ReportReceived{
		MessageID:  req.MessageID,
		Subject:    req.Subject,
		From:       req.From,
		ReceivedAt: req.ReceivedAt,
		Body:       req.Body,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "saved": n})
}

func (a *NoticesAPI) importSubmissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceFile string `json:"sourceFile"`
		Channel    int32  `json:"channel"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	n, err := a.svc.IngestSubmissionExport(r.Context(), req.SourceFile, models.ChannelID(req.Channel), req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": n})
}

func (a *NoticesAPI) barcodeRemovals(w http.ResponseWriter, r *http.Request) {
	barcode := r.URL.Query().Get("barcode")
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := a.svc.BarcodeRemovals(r.Context(), barcode, from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removals": toFailureViews(recs)})
}

type failureView struct {
	Phone          string    `json:"phone,omitempty"`
	PatronBarcode  string    `json:"patronBarcode,omitempty"`
	BarcodePartial bool      `json:"barcodePartial,omitempty"`
	PatronID       string    `json:"patronId,omitempty"`
	PatronName     string    `json:"patronName,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	NoticeType     string    `json:"noticeType,omitempty"`
	FailureType    string    `json:"failureType"`
	Reason         string    `json:"reason,omitempty"`
	AccountStatus  string    `json:"accountStatus,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

func toFailureViews(recs []*models.FailureRecord) []failureView {
	out := make([]failureView, 0, len(recs))
	for _, f := range recs {
		out = append(out, failureView{
			Phone:          f.Phone,
			PatronBarcode:  f.PatronBarcode,
			BarcodePartial: f.BarcodePartial,
			PatronID:       f.PatronID,
			PatronName:     f.PatronName,
			Branch:         f.Branch,
			NoticeType:     f.NoticeType,
			FailureType:    f.FailureType,
			Reason:         f.Reason,
			AccountStatus:  f.AccountStatus,
			ReceivedAt:     f.ReceivedAt,
		})
	}
	return out
}

func toViews(ats []*models.NotificationAttempt) []attemptView {
	out := make([]attemptView, 0, len(ats))
	for _, at := range ats {
		out = append(out, attemptView{
			ID:            at.ID,
			PatronID:      at.PatronID,
			PatronBarcode: at.PatronBarcode,
			Category:      at.Category,
			Channel:       int32(at.Channel),
			Destination:   at.Destination,
			AttemptedAt:   at.AttemptedAt,
			ItemBarcode:   at.ItemBarcode,
			Status:        at.Status,
			NextVerifyAt:  at.NextVerifyAt,
			LastError:     derefString(at.LastError),
			CreatedAt:     at.CreatedAt,
			UpdatedAt:     at.UpdatedAt,
		})
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseIDList(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("ids query param is required")
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.New("invalid id: " + p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, errors.Errorf("%s query param is required (RFC3339)", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + ": " + err.Error())
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
