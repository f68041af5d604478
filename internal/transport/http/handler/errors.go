package handler

const (
	errInternalServer = "Internal server error"
	errUnknownGuard   = "Unknown guard"
	errInvalidInput   = "Invalid credentials"
	errUnauthorized   = "Unauthorized"

	msgLinkSent = "If the account exists, a sign-in link is on its way"
)
