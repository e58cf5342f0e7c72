package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deployr-hpc/deployr/deploy"
)

// pollInterval paces the demo functions' retry loops on full or empty
// channels.
const pollInterval = time.Millisecond

// registerDemoFunctions installs the built-in driver pair. Requests that
// name CoordinatorFc and WorkerFc run out of the box: each worker pushes one
// greeting into every channel it produces to, and the coordinator drains one
// token per producer from every channel it consumes.
func registerDemoFunctions(registry *deploy.Registry) {
	if err := registry.Register("CoordinatorFc", coordinatorFc); err != nil {
		logrus.Fatalf("Unable to register demo function: %v", err)
	}
	if err := registry.Register("WorkerFc", workerFc); err != nil {
		logrus.Fatalf("Unable to register demo function: %v", err)
	}
}

func workerFc(d *deploy.DeployR) error {
	inst, _ := d.LocalInstance()
	for _, ch := range d.Deployment().Request.Channels {
		handle, ok := d.Channel(ch.Name)
		if !ok || handle.Role() != deploy.RoleProducer {
			continue
		}
		token := []byte(fmt.Sprintf("hello from %s", inst.Name))
		for {
			pushed, err := handle.Push(token)
			if err != nil {
				return err
			}
			if pushed {
				break
			}
			time.Sleep(pollInterval)
		}
		logrus.Infof("%s pushed %d bytes into %s", inst.Name, len(token), ch.Name)
	}
	return nil
}

func coordinatorFc(d *deploy.DeployR) error {
	inst, _ := d.LocalInstance()
	for _, ch := range d.Deployment().Request.Channels {
		handle, ok := d.Channel(ch.Name)
		if !ok || handle.Role() != deploy.RoleConsumer {
			continue
		}
		for remaining := len(ch.Producers); remaining > 0; {
			view, ok, err := handle.Peek()
			if err != nil {
				return err
			}
			if !ok {
				time.Sleep(pollInterval)
				continue
			}
			logrus.Infof("%s received %q on %s", inst.Name, view, ch.Name)
			if _, err := handle.Pop(); err != nil {
				return err
			}
			remaining--
		}
	}
	return nil
}
