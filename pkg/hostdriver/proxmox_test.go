package hostdriver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

func TestTemplateVMID(t *testing.T) {
	require.Equal(t, 100, templateVMID("pve:100"))
	require.Equal(t, 0, templateVMID("not-a-template-ref"))
}

func TestClassifyProxmoxErrNil(t *testing.T) {
	require.NoError(t, classifyProxmoxErr(nil, "doing %s", "thing"))
}

func TestClassifyProxmoxErrGenericIsTransient(t *testing.T) {
	err := classifyProxmoxErr(errors.New("boom"), "resolving vm %d", 5)
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindTransientRemote, lnvpserr.KindOf(err))
	require.Contains(t, err.Error(), "resolving vm 5")
}

func TestIsProxmoxNotFoundFalseForGenericError(t *testing.T) {
	require.False(t, isProxmoxNotFound(errors.New("boom")))
}
