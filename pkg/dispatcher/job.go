// Package dispatcher implements the Work Dispatcher: a
// durable, at-least-once, consumer-grouped job queue with a pluggable
// feedback channel, generalized from a Redis-backed polling-tick worker
// into an enqueue/claim/ack stream.
package dispatcher

import (
	"encoding/json"
	"time"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// JobType is the stable tag of a Job's variant, used both in JSON encoding
// and Redis stream field names.
type JobType string

const (
	JobPatchHosts           JobType = "PatchHosts"
	JobCheckVms             JobType = "CheckVms"
	JobCheckVm              JobType = "CheckVm"
	JobSendNotification     JobType = "SendNotification"
	JobSendAdminNotification JobType = "SendAdminNotification"
	JobBulkMessage          JobType = "BulkMessage"
	JobDeleteVm             JobType = "DeleteVm"
	JobStartVm              JobType = "StartVm"
	JobStopVm               JobType = "StopVm"
	JobCheckNostrDomains    JobType = "CheckNostrDomains"
	JobProcessVmUpgrade     JobType = "ProcessVmUpgrade"
	JobConfigureVm          JobType = "ConfigureVm"
	JobAssignVmIp           JobType = "AssignVmIp"
	JobUnassignVmIp         JobType = "UnassignVmIp"
	JobUpdateVmIp           JobType = "UpdateVmIp"
	JobProcessVmRefund      JobType = "ProcessVmRefund"
	JobCreateVm             JobType = "CreateVm"
)

// canSkip is the set of job types safe to drop on failure: the Worker acks
// them after a failed run instead of leaving them pending for redelivery.
var canSkip = map[JobType]bool{
	JobCheckVms:          true,
	JobCheckVm:           true,
	JobCheckNostrDomains: true,
	JobStartVm:           true,
	JobStopVm:            true,
}

// CanSkip reports whether a job of type t is acked and dropped after a
// failed run rather than left unacked for redelivery.
func CanSkip(t JobType) bool { return canSkip[t] }

// Job is the closed tagged union of work items. Only the
// fields relevant to Type are populated; JSON encoding keeps every field
// tagged `omitempty` so the wire shape stays a flat, inspectable object
// rather than a nested enum encoding.
type Job struct {
	Type JobType `json:"type"`

	VmID            catalog.ID  `json:"vm_id,omitempty"`
	UserID          catalog.ID  `json:"user_id,omitempty"`
	AdminUserID     *catalog.ID `json:"admin_user_id,omitempty"`
	TemplateID       catalog.ID  `json:"template_id,omitempty"`
	CustomTemplateID catalog.ID  `json:"custom_template_id,omitempty"`
	ImageID         catalog.ID  `json:"image_id,omitempty"`
	SSHKeyID        catalog.ID  `json:"ssh_key_id,omitempty"`
	RefCode         *string     `json:"ref_code,omitempty"`
	Reason          *string     `json:"reason,omitempty"`
	Message         string      `json:"message,omitempty"`
	Title           *string     `json:"title,omitempty"`
	Subject         string      `json:"subject,omitempty"`
	IpRangeID       catalog.ID  `json:"ip_range_id,omitempty"`
	IP              *string     `json:"ip,omitempty"`
	AssignmentID    catalog.ID  `json:"assignment_id,omitempty"`
	UpgradeConfig   []byte      `json:"config,omitempty"`
	RefundFromDate  *time.Time  `json:"refund_from_date,omitempty"`
	PaymentMethod   catalog.PaymentMethod `json:"payment_method,omitempty"`
	LightningInvoice *string    `json:"lightning_invoice,omitempty"`
}

// Envelope is the wire shape of one queued message: {id, job, is_pending}.
type Envelope struct {
	ID        string    `json:"id"`
	Job       Job       `json:"job"`
	IsPending bool      `json:"is_pending"`
	Enqueued  time.Time `json:"enqueued"`
}

// Encode serializes an Envelope for transport (Redis stream field value or
// in-memory passthrough).
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, lnvpserr.Fatal(err, "encoding job envelope")
	}
	return b, nil
}

// DecodeEnvelope parses the wire shape written by Encode.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, lnvpserr.Validation("decoding job envelope: %v", err)
	}
	return e, nil
}
