package device

import "context"

// Publisher receives every accepted write.
//
// Publish is called synchronously and in a single global order. It must not
// block for long; implementations with slow sinks should queue internally.
// Failures stay inside the publisher.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Publishers fans an event out to several publishers in order. A panic in one
// does not prevent delivery to the others.
type Publishers struct {
	list   []Publisher
	logger Logger
}

// NewPublishers combines publishers. Nil entries are skipped.
func NewPublishers(logger Logger, pubs ...Publisher) *Publishers {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &Publishers{logger: logger}
	for _, pub := range pubs {
		if pub != nil {
			p.list = append(p.list, pub)
		}
	}
	return p
}

// Add appends a publisher.
func (p *Publishers) Add(pub Publisher) {
	if pub != nil {
		p.list = append(p.list, pub)
	}
}

// Len returns the number of publishers.
func (p *Publishers) Len() int { return len(p.list) }

// Publish delivers ev to every publisher.
func (p *Publishers) Publish(ctx context.Context, ev Event) {
	for _, pub := range p.list {
		safePublish(ctx, pub, ev, p.logger)
	}
}

func safePublish(ctx context.Context, pub Publisher, ev Event, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("publisher panic recovered", "dev", ev.Dev, "attr", ev.Attr, "panic", r)
		}
	}()
	pub.Publish(ctx, ev)
}
