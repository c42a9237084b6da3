package taskrouter

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/st-keller/taskrouter-client/command"
	"github.com/st-keller/taskrouter-client/config"
	"github.com/st-keller/taskrouter-client/heartbeat"
	"github.com/st-keller/taskrouter-client/metrics"
	"github.com/st-keller/taskrouter-client/signaling"
)

// Options configures a Worker. The zero value is usable.
type Options struct {
	ConnectActivitySID    string // activity to enter after every (re)initialization
	DisconnectActivitySID string // activity to enter, best effort, on every disconnect
	CloseExistingSessions bool   // terminate other push sessions of this worker

	Environment string           // backend environment, default "prod"
	Endpoints   config.Endpoints // overrides Environment when WebSocket is set

	Logger  *slog.Logger
	Metrics *metrics.Metrics // defaults to instruments on the global meter provider

	Sender            command.Sender   // defaults to a command.Client on Endpoints.EventBridge
	HTTPClient        *http.Client     // used by the default Sender
	Dialer            signaling.Dialer // defaults to signaling.WebSocketDialer
	HeartbeatInterval time.Duration    // default 60s
	CommandTimeout    time.Duration    // default 5s
}

func (o Options) withDefaults() Options {
	if o.Environment == "" {
		o.Environment = config.EnvironmentProd
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = heartbeat.DefaultIntervalSec * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = command.DefaultTimeout
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default()
	}
	return o
}
