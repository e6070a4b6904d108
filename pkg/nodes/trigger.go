package nodes

import (
	"context"

	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// TimestampLayout is the UTC millisecond layout used for node timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (o *Operations) trigger(_ context.Context, _ workflow.Node, _ interface{}, _ *execution.Context) (interface{}, error) {
	return map[string]interface{}{
		"triggered": true,
		"timestamp": o.now().UTC().Format(TimestampLayout),
	}, nil
}
