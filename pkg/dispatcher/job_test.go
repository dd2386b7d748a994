package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanSkipMatchesSpecSet(t *testing.T) {
	require.True(t, CanSkip(JobCheckVms))
	require.True(t, CanSkip(JobCheckVm))
	require.True(t, CanSkip(JobCheckNostrDomains))
	require.True(t, CanSkip(JobStartVm))
	require.True(t, CanSkip(JobStopVm))

	require.False(t, CanSkip(JobCreateVm))
	require.False(t, CanSkip(JobDeleteVm))
	require.False(t, CanSkip(JobProcessVmRefund))
}

func TestEnvelopeRoundTrips(t *testing.T) {
	reason := "maintenance"
	env := Envelope{
		ID: "1-0",
		Job: Job{
			Type:   JobDeleteVm,
			VmID:   42,
			Reason: &reason,
		},
		IsPending: true,
	}

	encoded, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	require.Equal(t, env.Job.Type, decoded.Job.Type)
	require.Equal(t, env.Job.VmID, decoded.Job.VmID)
	require.Equal(t, *env.Job.Reason, *decoded.Job.Reason)
}

func TestDecodeEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	require.Error(t, err)
}
