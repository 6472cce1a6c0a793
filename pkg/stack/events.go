package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/auto/events"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"go.uber.org/zap"

	"github.com/thunderbird/pulumi-go/pkg/logging"
)

// Events returns a channel consuming engine events for the given
// action, logging each event at debug level and periodic progress
// summaries at info level.
func Events(ctx context.Context, action string) chan<- events.EngineEvent {
	ech := make(chan events.EngineEvent)
	go func() {
		log := logging.GetLogger(ctx).Named("pulumi.events").Sugar()
		status := fmt.Sprintf("%s stack", action)

		// resourceStatus tracks each resource's status. The key is the resource's URN and the value is the status.
		// The value is an enum that represents the resource's status:
		// 0. Pending / resource pre event, this just marks which resources we're aware of
		// 1. Refresh complete
		// 2. In progress
		// 3. Done
		resourceStatus := make(map[string]int)
		lastReported := -1

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ech:
				if !ok {
					return
				}
				buf.Reset()
				if err := enc.Encode(e); err != nil {
					log.Error("Failed to encode pulumi event", zap.Error(err))
					continue
				}
				log.Debugf("Pulumi event: %s", strings.TrimSpace(buf.String()))

				switch {
				case e.PreludeEvent != nil:
					log.Infof("%s", status)

				case e.ResourcePreEvent != nil:
					e := e.ResourcePreEvent
					if e.Metadata.Op == apitype.OpRefresh {
						resourceStatus[e.Metadata.URN] = 0
					} else {
						resourceStatus[e.Metadata.URN] = 2
					}

				case e.ResOutputsEvent != nil:
					e := e.ResOutputsEvent
					if e.Metadata.Op == apitype.OpRefresh {
						resourceStatus[e.Metadata.URN] = 1
					} else {
						resourceStatus[e.Metadata.URN] = 3
					}
				}

				current, total := 0, 0
				for _, stateCode := range resourceStatus {
					total += 3
					current += stateCode
				}
				if total > 0 {
					percent := current * 100 / total
					if percent != lastReported {
						lastReported = percent
						log.Infof("%s: %d%%", status, percent)
					}
				}
			}
		}
	}()
	return ech
}
