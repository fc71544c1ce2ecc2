package fanout

import (
	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

// Dispatcher pushes a change to every current subscriber of a key.
type Dispatcher struct {
	table  *Table
	peers  *Peers
	logger logger.Logger
}

func NewDispatcher(table *Table, peers *Peers, log logger.Logger) *Dispatcher {
	return &Dispatcher{table: table, peers: peers, logger: log}
}

// Dispatch delivers ev to the subscribers of key and returns how many
// connections accepted it. A failing connection never stops the others.
func (d *Dispatcher) Dispatch(key domain.QueryKey, ev domain.ChangeEvent) int {
	event, err := ev.Kind.EventName()
	if err != nil {
		d.logger.Warn("dropping change", logger.String("key", key.Short()), logger.Error(err))
		return 0
	}

	delivered := 0
	for _, id := range d.table.SubscribersOf(key) {
		conn, ok := d.peers.Get(id)
		if !ok {
			continue
		}
		if err := conn.Emit(event, ev.Descriptor); err != nil {
			d.logger.Debug("change delivery failed",
				logger.String("conn_id", id),
				logger.String("event", event),
				logger.Error(err))
			continue
		}
		delivered++
	}

	d.logger.Debug("change dispatched",
		logger.String("key", key.Short()),
		logger.String("event", event),
		logger.Int("delivered", delivered))
	return delivered
}
