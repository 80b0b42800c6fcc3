package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/moderation"
)

// --- モック ---

type mockModerationService struct {
	reportFn      func(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (*moderation.ReportResult, error)
	hasReportedFn func(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (bool, error)
	adminActionFn func(ctx context.Context, actor model.Viewer, action model.AdminAction, targetUserID int64) error
	takedownFn    func(ctx context.Context, actor model.Viewer, pinID int64) (*model.Pin, error)
}

func (m *mockModerationService) Report(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (*moderation.ReportResult, error) {
	return m.reportFn(ctx, actor, kind, targetID)
}

func (m *mockModerationService) HasReported(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (bool, error) {
	return m.hasReportedFn(ctx, actor, kind, targetID)
}

func (m *mockModerationService) AdminAction(ctx context.Context, actor model.Viewer, action model.AdminAction, targetUserID int64) error {
	return m.adminActionFn(ctx, actor, action, targetUserID)
}

func (m *mockModerationService) TakedownPin(ctx context.Context, actor model.Viewer, pinID int64) (*model.Pin, error) {
	return m.takedownFn(ctx, actor, pinID)
}

type mockUserSearcher struct {
	searchFn func(ctx context.Context, actor model.Viewer, query string) ([]*model.User, error)
}

func (m *mockUserSearcher) Search(ctx context.Context, actor model.Viewer, query string) ([]*model.User, error) {
	return m.searchFn(ctx, actor, query)
}

// --- テスト ---

func TestModerationHandler_Report(t *testing.T) {
	var gotKind model.TargetKind
	var gotID int64
	svc := &mockModerationService{
		reportFn: func(_ context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (*moderation.ReportResult, error) {
			gotKind, gotID = kind, targetID
			return &moderation.ReportResult{TargetKind: kind, TargetID: targetID, Reports: 5, Hidden: true}, nil
		},
	}
	h := NewModerationHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reports", strings.NewReader(`{"target_kind":"comment","target_id":7}`))
	w := httptest.NewRecorder()
	h.Report(w, withViewer(req, alice))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotKind != model.TargetComment || gotID != 7 {
		t.Errorf("Report called with %s/%d", gotKind, gotID)
	}
	var resp reportResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reports != 5 || !resp.Hidden {
		t.Errorf("response = %+v", resp)
	}
}

func TestModerationHandler_Report_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already reported", `{"target_kind":"pin","target_id":1}`, model.NewAlreadyReportedError(), http.StatusConflict, model.ErrCodeAlreadyReported},
		{"missing pin", `{"target_kind":"pin","target_id":1}`, model.NewPinNotFoundError(), http.StatusNotFound, model.ErrCodePinNotFound},
		{"unknown kind", `{"target_kind":"user","target_id":1}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"broken json", `{`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockModerationService{
				reportFn: func(context.Context, model.Viewer, model.TargetKind, int64) (*moderation.ReportResult, error) {
					return nil, tt.err
				},
			}
			h := NewModerationHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/reports", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Report(w, withViewer(req, alice))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if resp := parseAPIErrorResponse(t, w); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestModerationHandler_CheckReport(t *testing.T) {
	svc := &mockModerationService{
		hasReportedFn: func(_ context.Context, _ model.Viewer, kind model.TargetKind, targetID int64) (bool, error) {
			return kind == model.TargetPin && targetID == 3, nil
		},
	}
	h := NewModerationHandler(svc, nil)

	tests := []struct {
		query      string
		wantStatus int
		wantBody   string
	}{
		{"?target_kind=pin&target_id=3", http.StatusOK, `{"reported":true}`},
		{"?target_kind=comment&target_id=3", http.StatusOK, `{"reported":false}`},
		{"?target_kind=pin&target_id=abc", http.StatusBadRequest, ""},
		{"?target_id=3", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/reports/check"+tt.query, nil)
			w := httptest.NewRecorder()
			h.CheckReport(w, withViewer(req, alice))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && strings.TrimSpace(w.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestModerationHandler_UserAction(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		err        error
		wantStatus int
		wantAction model.AdminAction
	}{
		{"ban", "5", `{"action":"ban"}`, nil, http.StatusNoContent, model.AdminActionBan},
		{"unverify", "5", `{"action":"unverify"}`, nil, http.StatusNoContent, model.AdminActionUnverify},
		{"not admin", "5", `{"action":"verify"}`, model.NewNotAuthorizedError(), http.StatusForbidden, model.AdminActionVerify},
		{"missing user", "5", `{"action":"unban"}`, model.NewUserNotFoundError(), http.StatusNotFound, model.AdminActionUnban},
		{"unknown action", "5", `{"action":"delete"}`, nil, http.StatusBadRequest, ""},
		{"invalid id", "x", `{"action":"ban"}`, nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called model.AdminAction
			svc := &mockModerationService{
				adminActionFn: func(_ context.Context, _ model.Viewer, action model.AdminAction, targetUserID int64) error {
					called = action
					if targetUserID != 5 {
						t.Errorf("targetUserID = %d, want 5", targetUserID)
					}
					return tt.err
				},
			}
			h := NewModerationHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/admin/users/"+tt.id+"/actions", strings.NewReader(tt.body))
			req = withChiURLParam(withViewer(req, alice), "id", tt.id)
			w := httptest.NewRecorder()
			h.UserAction(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantAction {
				t.Errorf("action = %q, want %q", called, tt.wantAction)
			}
		})
	}
}

func TestModerationHandler_TakedownPin(t *testing.T) {
	svc := &mockModerationService{
		takedownFn: func(_ context.Context, _ model.Viewer, pinID int64) (*model.Pin, error) {
			return &model.Pin{ID: pinID, Title: "t", Reports: model.TakedownReports}, nil
		},
	}
	h := NewModerationHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/pins/9/takedown", nil)
	req = withChiURLParam(withViewer(req, alice), "id", "9")
	w := httptest.NewRecorder()
	h.TakedownPin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp pinResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 9 || resp.Reports != model.TakedownReports {
		t.Errorf("response = %+v", resp)
	}
}

func TestModerationHandler_SearchUsers(t *testing.T) {
	users := &mockUserSearcher{
		searchFn: func(_ context.Context, actor model.Viewer, query string) ([]*model.User, error) {
			if !actor.IsAdmin {
				return nil, model.NewNotAuthorizedError()
			}
			return []*model.User{{ID: 1, Username: query, IsBanned: true}}, nil
		},
	}
	h := NewModerationHandler(&mockModerationService{}, users)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users?q=bob", nil)
	w := httptest.NewRecorder()
	h.SearchUsers(w, withViewer(req, model.Viewer{UserID: 1, IsAdmin: true}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []userResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Username != "bob" || !got[0].IsBanned {
		t.Errorf("users = %+v", got)
	}

	w = httptest.NewRecorder()
	h.SearchUsers(w, withViewer(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), alice))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", w.Code)
	}
}
