package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID key = "trace_id"
	MatchID key = "match_id"
	BotID   key = "bot_id"
	Side    key = "side"
)
