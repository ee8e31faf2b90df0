package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/nerrad567/scada-hub/internal/audit"
)

// auditChanSize is the buffer size for the async audit channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for an accepted command. It never blocks
// the request; a full channel drops the entry with a warning.
func (s *Server) auditLog(r *http.Request, action, name string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		Controller: name,
		Source:     remoteHost(r.RemoteAddr),
		RequestID:  requestIDFrom(r.Context()),
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit channel full, dropping entry",
			"action", action,
			"controller", name,
		)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is cancelled,
// then flushes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)

	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit write failed",
			"action", entry.Action,
			"controller", entry.Controller,
			"error", err,
		)
	}
}

// handleListAuditLogs returns one page of the command trail, newest first.
//
// Query parameters:
//   - action: set_values or set_state
//   - controller: controller name
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		Controller: q.Get("controller"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// remoteHost strips the port from addr when there is one.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
