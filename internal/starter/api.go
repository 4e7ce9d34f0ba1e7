package starter

import (
	"context"

	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/pkg/log"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

type Stopable interface {
	Stop()
}

func Start(ctx context.Context, elems ...Startable) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok {
			configurable.Apply(config.Global)
		}
		ele.Start(ctx)
	}
}

// Stop 按启动的逆序停止组件
func Stop(elems ...Startable) {
	for i := len(elems) - 1; i >= 0; i-- {
		if stopable, ok := elems[i].(Stopable); ok {
			stopable.Stop()
		}
	}
	log.Info("components stopped")
}
