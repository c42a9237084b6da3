// Package config builds backend endpoints and loads client configuration.
// Precedence for file-based configuration: defaults < YAML file < environment variables.
package config

import (
	"fmt"
	"net/url"
	"strconv"
)

// EnvironmentProd is the production backend.
const EnvironmentProd = "prod"

// Endpoints holds the three base URLs a worker talks to.
type Endpoints struct {
	TaskRouter  string // REST resources, e.g. .../v1/Workspaces/WSxxx
	EventBridge string // command relay
	WebSocket   string // push channel
}

// NewEndpoints builds the endpoints for an environment ("prod", "stage", "dev", ...).
func NewEndpoints(environment, accountSID, workspaceSID, workerSID string) Endpoints {
	if environment == "" {
		environment = EnvironmentProd
	}
	if environment == EnvironmentProd {
		return Endpoints{
			TaskRouter:  "https://taskrouter.twilio.com/v1/Workspaces/" + workspaceSID,
			EventBridge: "https://event-bridge.twilio.com/v1/wschannels/" + accountSID + "/" + workerSID,
			WebSocket:   "wss://event-bridge.twilio.com/v1/wschannels/" + accountSID + "/" + workerSID,
		}
	}
	return Endpoints{
		TaskRouter:  fmt.Sprintf("https://taskrouter.%s.twilio.com/v1/Workspaces/%s", environment, workspaceSID),
		EventBridge: fmt.Sprintf("https://event-bridge.%s-us1.twilio.com/v1/wschannels/%s/%s", environment, accountSID, workerSID),
		WebSocket:   fmt.Sprintf("wss://event-bridge.%s-us1.twilio.com/v1/wschannels/%s/%s", environment, accountSID, workerSID),
	}
}

// ConnectURL returns the push channel URL carrying the bearer token and the session takeover flag.
func (e Endpoints) ConnectURL(token string, closeExistingSessions bool) (string, error) {
	u, err := url.Parse(e.WebSocket)
	if err != nil {
		return "", fmt.Errorf("parse websocket endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("closeExistingSessions", strconv.FormatBool(closeExistingSessions))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
