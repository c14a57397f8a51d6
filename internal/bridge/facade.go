package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"candybridge/internal/logging"
)

// Facade turns client calls into blocking operations that always return a
// value. Errors and panics from the client become failed Results. Concurrent
// calls are not serialized here.
type Facade struct {
	manager *Manager
	logger  *slog.Logger
}

// NewFacade returns a facade over manager.
func NewFacade(manager *Manager, logger *slog.Logger) *Facade {
	return &Facade{manager: manager, logger: logging.NewComponentLogger(logger, "facade")}
}

// Register creates an account and returns its identifier.
func (f *Facade) Register(ctx context.Context, creds Credentials) Result {
	return f.account(ctx, "register", creds, func(c Client) (int64, error) {
		return c.Register(ctx, creds.Username, creds.Password)
	})
}

// Login authenticates and returns the account identifier.
func (f *Facade) Login(ctx context.Context, creds Credentials) Result {
	return f.account(ctx, "login", creds, func(c Client) (int64, error) {
		return c.Login(ctx, creds.Username, creds.Password)
	})
}

// SearchUser looks up users by name. Clients without search support yield an
// empty successful list.
func (f *Facade) SearchUser(ctx context.Context, username string) UserList {
	client, state := f.manager.connected()
	if client == nil {
		return UserList{Result: notConnected(state), IDs: []int64{}}
	}
	finder, ok := client.(UserFinder)
	if !ok {
		return UserList{Result: Result{Succeeded: true}, IDs: []int64{}}
	}

	var ids []int64
	err := guard(func() error {
		var err error
		ids, err = finder.FindUser(ctx, username)
		return err
	})
	if err != nil {
		f.logFailure(ctx, "search", err, logging.String("query", username))
		return UserList{Result: Failure(err.Error()), IDs: []int64{}}
	}
	if ids == nil {
		ids = []int64{}
	}
	return UserList{Result: Result{Succeeded: true}, IDs: ids}
}

// Echo returns p unchanged. It never touches the client.
func (f *Facade) Echo(p Probe) Probe {
	if p.Numbers == nil {
		p.Numbers = []int64{}
	}
	return p
}

func (f *Facade) account(ctx context.Context, op string, creds Credentials, call func(Client) (int64, error)) Result {
	client, state := f.manager.connected()
	if client == nil {
		return notConnected(state)
	}

	var id int64
	err := guard(func() error {
		var err error
		id, err = call(client)
		return err
	})
	if err != nil {
		f.logFailure(ctx, op, err, logging.Any("credentials", creds))
		return Failure(err.Error())
	}
	logging.WithContext(ctx, f.logger).Debug("account call succeeded",
		logging.String("operation", op),
		logging.Int64("id", id),
	)
	return Success(id)
}

func (f *Facade) logFailure(ctx context.Context, op string, err error, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the gateway response"),
		logging.String(logging.FieldImpact, "caller received a failed result"),
	)
	logging.WarnWithContext(logging.WithContext(ctx, f.logger), "client call failed", "rpc_failed", attrs...)
}

func notConnected(state ConnectionState) Result {
	return Failure("not connected: state=" + state.String())
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("client panic: %v", rec)
		}
	}()
	return fn()
}
