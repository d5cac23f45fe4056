package gameclient

// Session holds the authentication artifacts of one logged-in account. It is
// scoped to a single batch and opaque to the orchestrator.
type Session struct {
	UUID           string
	AdvertisingID  string
	UserID         string
	LoginToken     string
	ChatTag        string
	JWT            string
	SessionToken   string
	StartChatToken string

	// Proxy picked at login; all further calls for this session go through it.
	ProxyURL string
}
