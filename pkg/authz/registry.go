package authz

const (
	RoleAnonymous = "anonymous"
	RoleUser      = "user"
	RoleService   = "service"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
)

const DomainGlobal = "global"

const (
	ObjectActionHandleRequest         = "action.handle_request"
	ObjectActionHandleRequestInternal = "action.handle_request_internal"
	ObjectPresenterHandle             = "presenter.handle"
)
