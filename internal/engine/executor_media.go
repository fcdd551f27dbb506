package engine

import (
	"context"

	"github.com/mbracero/fresco/pkg/schema"
)

// executeMedia materializes a media node: the config already names a stored
// asset, so the node just surfaces the typed reference.
func (x *Executors) executeMedia(_ context.Context, _ *schema.Node, cfg *schema.MediaConfig) (schema.Outputs, error) {
	return schema.Outputs{schema.HandleMedia: schema.MediaValue(cfg.Type, cfg.Ref)}, nil
}
