package catalog

import "context"

// HydrateVm eager-loads every related row a Vm's read model needs: its OS
// image, its template or custom template (whichever is set), its SSH key,
// and its live IP assignments. Hydration is one explicit call site, never
// an implicit join triggered by field access.
func (s *Store) HydrateVm(ctx context.Context, vm Vm) (Hydrated, error) {
	img, err := s.GetVmOsImage(ctx, vm.ImageID)
	if err != nil {
		return Hydrated{}, err
	}

	h := Hydrated{Vm: vm, Image: img}

	if vm.TemplateID != nil {
		tmpl, err := s.GetVmTemplate(ctx, *vm.TemplateID)
		if err != nil {
			return Hydrated{}, err
		}
		h.Template = &tmpl
	}
	if vm.CustomTemplateID != nil {
		custom, err := s.GetCustomTemplate(ctx, *vm.CustomTemplateID)
		if err != nil {
			return Hydrated{}, err
		}
		h.CustomTemplate = &custom
	}

	key, err := s.GetSSHKey(ctx, vm.SSHKeyID)
	if err != nil {
		return Hydrated{}, err
	}
	h.SSHKey = key

	ips, err := s.ListVmIPAssignments(ctx, vm.ID)
	if err != nil {
		return Hydrated{}, err
	}
	h.IpAssignments = ips

	return h, nil
}

// HydrateVmByID fetches and hydrates a Vm by ID in one call.
func (s *Store) HydrateVmByID(ctx context.Context, id ID) (Hydrated, error) {
	vm, err := s.GetVm(ctx, id)
	if err != nil {
		return Hydrated{}, err
	}
	return s.HydrateVm(ctx, vm)
}
