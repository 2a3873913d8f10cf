package daemon

import "context"

// Interface runs the assistant until the context is cancelled or the capture
// loop dies.
type Interface interface {
	Run(ctx context.Context) error
}
