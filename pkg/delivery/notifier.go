package delivery

import (
	"github.com/tinyland-inc/picorelay/pkg/bus"
	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// BusNotifier hands notices to a NoticeBus without blocking. When the bus
// is full or closed the notice is dropped.
type BusNotifier struct {
	bus *bus.NoticeBus
}

func NewBusNotifier(nb *bus.NoticeBus) *BusNotifier {
	return &BusNotifier{bus: nb}
}

func (n *BusNotifier) Notify(notice bus.Notice) {
	if err := n.bus.TryPublish(notice); err != nil {
		logger.WarnCF("delivery", "Operator notice dropped", map[string]any{
			"destination_id": notice.DestinationID,
			"error":          err.Error(),
		})
	}
}
