package mqttcomms

// Config names the broker and topic prefix shared by a ClientComms and
// the ServerComms it talks to. Requests are published on
// Prefix+"/request" and responses on Prefix+"/response" — a single pair
// of fixed topics carries every exchange, correlated by each message's
// own wire "id" field rather than by topic (spec.md §4.7).
type Config struct {
	Broker   string
	Prefix   string
	ClientID string
	Username string
	Password string
}

func (c Config) requestTopic() string  { return c.Prefix + "/request" }
func (c Config) responseTopic() string { return c.Prefix + "/response" }
