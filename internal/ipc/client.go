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

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueList returns the active queue.
func (c *Client) QueueList() (*QueueListResponse, error) {
	return call[QueueListResponse](c, "QueueList", QueueListRequest{})
}

// History returns finished jobs matching req.
func (c *Client) History(req HistoryRequest) (*HistoryResponse, error) {
	return call[HistoryResponse](c, "History", req)
}

// ClearHistory forgets finished jobs.
func (c *Client) ClearHistory() (*ClearHistoryResponse, error) {
	return call[ClearHistoryResponse](c, "ClearHistory", ClearHistoryRequest{})
}

// Encode queues a file for encoding.
func (c *Client) Encode(path string, keepSource bool) (*EnqueueResponse, error) {
	return call[EnqueueResponse](c, "Encode", EncodeRequest{Path: path, KeepSource: keepSource})
}

// Scan queues a disc scan for drive.
func (c *Client) Scan(drive string) (*EnqueueResponse, error) {
	return call[EnqueueResponse](c, "Scan", ScanRequest{Drive: drive})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
