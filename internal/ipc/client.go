package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Register creates an account through the daemon.
func (c *Client) Register(username, password string) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.call("Register", CredentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates through the daemon.
func (c *Client) Login(username, password string) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.call("Login", CredentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchUser looks up users by name.
func (c *Client) SearchUser(username string) (*SearchUserResponse, error) {
	var resp SearchUserResponse
	if err := c.call("SearchUser", SearchUserRequest{Username: username}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Echo reflects req through the daemon.
func (c *Client) Echo(req EchoRequest) (*EchoResponse, error) {
	var resp EchoResponse
	if err := c.call("Echo", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Restart asks the daemon to reconnect to the gateway.
func (c *Client) Restart() (*RestartResponse, error) {
	var resp RestartResponse
	if err := c.call("Restart", RestartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit recent journal entries.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.call("Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
