package provisioner

import "github.com/lnvps/lnvpsd/pkg/lnvpserr"

func missingDriver(kind, name string) error {
	return lnvpserr.Fatal(nil, "no %s driver registered for kind %q", kind, name)
}
