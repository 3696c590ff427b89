package auth

import "context"

const (
	RoleViewer   = "payroll_viewer"
	RoleOperator = "payroll_operator"
	RoleAdmin    = "payroll_admin"
)

const (
	PermPayrollRead    = "payroll.read"
	PermPayrollWrite   = "payroll.write"
	PermPayrollRun     = "payroll.run"
	PermPayrollCancel  = "payroll.cancel"
	PermPayrollRecover = "payroll.recover"
	PermAuditRead      = "audit.read"
)

var RolePermissions = map[string][]string{
	RoleViewer: {
		PermPayrollRead,
	},
	RoleOperator: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollCancel,
	},
	RoleAdmin: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollCancel,
		PermPayrollRecover,
		PermAuditRead,
	},
}

func HasPermission(role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// StaticPermissions answers permission checks from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	return HasPermission(role, permission), nil
}
