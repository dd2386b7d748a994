// Package api mounts lnvpsd's own HTTP surface: payment rail webhook
// ingestion and the thin set of job-trigger endpoints a
// signed-in user or admin can call to enqueue work. Admin CRUD over hosts/templates/images/users is an
// external collaborator and is not mounted here.
package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lnvps/lnvpsd/internal/authn"
	"github.com/lnvps/lnvpsd/internal/httpserver"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/paymentengine"
)

// Handler wires job enqueueing, payment webhook ingestion, and
// authentication into chi routes.
type Handler struct {
	Store   *catalog.Store
	Queue   dispatcher.Queue
	Webhook *paymentengine.WebhookAdapter
	Logger  *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Routes returns the service's HTTP surface. webhooks are public (verified by
// rail signature instead of NIP-98); everything else requires a signed
// request.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/{method}", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware(h.Store))
		r.Post("/vms", h.handleCreateVm)
		r.Post("/vms/{id}/start", h.handleStartVm)
		r.Post("/vms/{id}/stop", h.handleStopVm)
		r.With(authn.RequirePermission(catalog.ResourceHosts, catalog.ActionUpdate)).
			Post("/admin/hosts/patch", h.handlePatchHosts)
	})

	return r
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	method := catalog.PaymentMethod(chi.URLParam(r, "method"))

	body, err := readWebhookBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := h.Webhook.Handle(r.Context(), method, r, body); err != nil {
		h.logger().Error("webhook ingestion failed", "method", method, "error", err)
		respondErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type createVmRequest struct {
	TemplateID       catalog.ID `json:"template_id"`
	CustomTemplateID catalog.ID `json:"custom_template_id,omitempty"`
	ImageID          catalog.ID `json:"image_id" validate:"required"`
	SSHKeyID         catalog.ID `json:"ssh_key_id" validate:"required"`
	RefCode          *string    `json:"ref_code,omitempty"`
}

func (h *Handler) handleCreateVm(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.FromContext(r.Context())
	if !ok {
		respondErr(w, lnvpserr.Auth("no authenticated identity"))
		return
	}

	var req createVmRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	env, err := h.Queue.Send(r.Context(), dispatcher.Job{
		Type:             dispatcher.JobCreateVm,
		UserID:           id.UserID,
		TemplateID:       req.TemplateID,
		CustomTemplateID: req.CustomTemplateID,
		ImageID:          req.ImageID,
		SSHKeyID:         req.SSHKeyID,
		RefCode:          req.RefCode,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusAccepted, env)
}

func (h *Handler) handleStartVm(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, dispatcher.JobStartVm)
}

func (h *Handler) handleStopVm(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, dispatcher.JobStopVm)
}

// handleLifecycle enqueues a vm-scoped lifecycle job once the caller is
// confirmed to own the VM, or else holds the host permission an admin
// override would require.
func (h *Handler) handleLifecycle(w http.ResponseWriter, r *http.Request, jobType dispatcher.JobType) {
	id, ok := authn.FromContext(r.Context())
	if !ok {
		respondErr(w, lnvpserr.Auth("no authenticated identity"))
		return
	}

	vmID, err := parseVmID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	vm, err := h.Store.GetVm(r.Context(), vmID)
	if err != nil {
		respondErr(w, err)
		return
	}

	job := dispatcher.Job{Type: jobType, VmID: vm.ID}
	if vm.UserID != id.UserID {
		if !id.Has(catalog.Permission{Resource: catalog.ResourceHosts, Action: catalog.ActionUpdate}) {
			respondErr(w, lnvpserr.Auth("not permitted to act on this vm"))
			return
		}
		job.AdminUserID = &id.UserID
	}

	env, err := h.Queue.Send(r.Context(), job)
	if err != nil {
		respondErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusAccepted, env)
}

func (h *Handler) handlePatchHosts(w http.ResponseWriter, r *http.Request) {
	env, err := h.Queue.Send(r.Context(), dispatcher.Job{Type: dispatcher.JobPatchHosts})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, env)
}

func readWebhookBody(r *http.Request) ([]byte, error) {
	const maxBody = 1 << 20 // 1 MiB
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBody))
}

func parseVmID(r *http.Request) (catalog.ID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid vm id %q", raw)
	}
	return id, nil
}

// respondErr maps a pkg/lnvpserr Kind to an HTTP status and writes the
// standard error envelope via httpserver.RespondError.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch lnvpserr.KindOf(err) {
	case lnvpserr.KindValidation:
		status = http.StatusBadRequest
	case lnvpserr.KindNotFound:
		status = http.StatusNotFound
	case lnvpserr.KindAuth:
		status = http.StatusForbidden
	case lnvpserr.KindConflict, lnvpserr.KindUniqueViolation:
		status = http.StatusConflict
	case lnvpserr.KindCapacityExhausted:
		status = http.StatusServiceUnavailable
	}
	httpserver.RespondError(w, status, string(lnvpserr.KindOf(err)), err.Error())
}
