package notification

import (
	"context"
	"sync"
	"time"

	"github.com/virtualbank/backend/pkg/observability"
)

type emailJob struct {
	to           string
	subject      string
	body         string
	notification *Notification
}

// Dispatcher runs a bounded worker pool in front of a Mailer so the
// consumer never blocks on email transport. Enqueue is non-blocking: a
// full queue drops the job and records the drop, it never stalls the
// caller. Send results end up in metrics and logs, not in the caller.
type Dispatcher struct {
	mailer  Mailer
	jobs    chan emailJob
	workers int
	log     *observability.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(mailer Mailer, workers, queueLen int, log *observability.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueLen < 1 {
		queueLen = 64
	}
	return &Dispatcher{
		mailer:  mailer,
		jobs:    make(chan emailJob, queueLen),
		workers: workers,
		log:     log.Named("email-dispatcher"),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(ctx)
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.deliver(job)
		}
	}
}

func (d *Dispatcher) deliver(job emailJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if job.notification != nil {
		err = d.mailer.SendNotificationEmail(ctx, job.to, job.notification)
	} else {
		err = d.mailer.SendSimpleEmail(ctx, job.to, job.subject, job.body)
	}
	if err != nil {
		d.log.Error("email delivery failed", "to", job.to, "error", err)
		return
	}
	d.log.Debug("email delivered", "to", job.to)
}

// EnqueueNotification queues a typed notification email.
func (d *Dispatcher) EnqueueNotification(to string, n *Notification) {
	d.enqueue(emailJob{to: to, notification: n})
}

// EnqueueSimple queues a plain text email.
func (d *Dispatcher) EnqueueSimple(to, subject, body string) {
	d.enqueue(emailJob{to: to, subject: subject, body: body})
}

func (d *Dispatcher) enqueue(job emailJob) {
	select {
	case d.jobs <- job:
	default:
		emailSends.WithLabelValues(statusFailed).Inc()
		d.log.Warn("email queue full, dropping job", "to", job.to)
	}
}
