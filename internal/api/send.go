package api

import (
	"net/http"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/httputil"
)

// HandleSend dispatches one email message.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg domain.OutboundMessage
	if !httputil.Decode(w, r, &msg) {
		return
	}

	outcome, err := h.engine.Send(r.Context(), &msg)
	if err != nil {
		writeSendError(w, err)
		return
	}
	httputil.OK(w, outcome)
}

// HandleSendMessage dispatches through the unified entry point with
// channel auto-detection.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.OutboundMessage
	if !httputil.Decode(w, r, &msg) {
		return
	}

	outcome, err := h.engine.SendMessage(r.Context(), &msg)
	if err != nil {
		writeSendError(w, err)
		return
	}
	httputil.OK(w, outcome)
}

// writeSendError maps the dispatch error taxonomy onto HTTP statuses.
func writeSendError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		httputil.ErrorWithCode(w, http.StatusBadRequest, string(kind), err.Error())
	case domain.KindAuthorization:
		httputil.ErrorWithCode(w, http.StatusForbidden, string(kind), err.Error())
	case domain.KindRateLimited:
		httputil.ErrorWithCode(w, http.StatusTooManyRequests, string(kind), err.Error())
	case domain.KindNotFound:
		httputil.ErrorWithCode(w, http.StatusNotFound, string(kind), err.Error())
	case domain.KindUnsupportedProvider:
		httputil.ErrorWithCode(w, http.StatusBadRequest, string(kind), err.Error())
	default:
		httputil.ErrorWithCode(w, http.StatusBadGateway, string(kind), err.Error())
	}
}
