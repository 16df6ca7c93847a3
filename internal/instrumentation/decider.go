package instrumentation

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// EventKind is a deployment lifecycle event.
type EventKind int

const (
	Deployed EventKind = iota
	Undeployed
)

func (k EventKind) String() string {
	switch k {
	case Deployed:
		return "deployed"
	case Undeployed:
		return "undeployed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes a deployment being created or removed.
type Event struct {
	Kind    EventKind
	Name    string
	Archive string
}

// Action is what the pipeline must do in response to an event.
type Action int

const (
	// None passes the deployment through as an ordinary package.
	None Action = iota
	// Perform installs an instrumentation server for the deployment.
	Perform
	// Remove uninstalls the deployment's instrumentation server.
	Remove
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case Perform:
		return "perform"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Decision is the outcome of Decide.
type Decision struct {
	Action  Action
	Name    string
	Archive string
	Config  *Configuration
}

// Decider maps deployment events to instrumentation actions using the
// declarations loaded for the current test class.
type Decider struct {
	mu     sync.RWMutex
	decls  Declarations
	logger *log.Logger
}

// NewDecider creates a decider with no declarations.
func NewDecider(logger *log.Logger) *Decider {
	if logger == nil {
		logger = log.New(os.Stdout, "[decider] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Decider{decls: Declarations{}, logger: logger}
}

// Load validates decls and, on success, replaces the current declarations.
// On error the previous declarations stay in effect.
func (d *Decider) Load(decls Declarations) error {
	if err := decls.Validate(); err != nil {
		return fmt.Errorf("load instrumentation declarations: %w", err)
	}
	copied := make(Declarations, len(decls))
	for name, c := range decls {
		copied[name] = c
	}

	d.mu.Lock()
	d.decls = copied
	d.mu.Unlock()

	d.logger.Printf("loaded %d instrumentation declaration(s)", len(copied))
	return nil
}

// Declared returns the configuration declared for name.
func (d *Decider) Declared(name string) (*Configuration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.decls[name]
	return c, ok
}

// Decide returns the action for ev. Undeclared deployments get None.
func (d *Decider) Decide(ev Event) Decision {
	decision := Decision{Action: None, Name: ev.Name, Archive: ev.Archive}

	c, ok := d.Declared(ev.Name)
	if !ok {
		return decision
	}
	decision.Config = c
	switch ev.Kind {
	case Deployed:
		decision.Action = Perform
	case Undeployed:
		decision.Action = Remove
	}
	return decision
}
