// Package client is a thin collaborator for the commlink server: dial,
// handshake, typed send and receive. Rendering responses is the caller's
// business.
package client

import (
	"bufio"
	"fmt"
	"net"

	"commlink/models"
	"commlink/protocol"
)

type Client struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	// Self is populated by Connect from the server-assigned identity.
	Self *models.User
}

// Dial opens a connection and waits for the server's readiness byte.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}

	if err := protocol.AwaitReady(c.r); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Connect claims a username and returns the presence snapshot of the other
// connected users. The server's response also carries our assigned identity.
func (c *Client) Connect(username string) ([]models.User, error) {
	err := c.SendRequest(protocol.Connect, protocol.Credentials{Username: username}, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Receive()
	if err != nil {
		return nil, err
	}
	if resp.Type != protocol.Connected {
		return nil, fmt.Errorf("connect refused: %s", resp.Type)
	}

	c.Self = resp.Origin

	var snapshot []models.User
	if len(resp.Content) > 0 {
		if err := resp.Decode(&snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// Disconnect tells the server to tear the session down.
func (c *Client) Disconnect() error {
	return c.SendRequest(protocol.Disconnect, nil, nil)
}

// SendMessage sends a point-to-point text message. The outcome arrives as
// a later MESSAGE_SENT or error response.
func (c *Client) SendMessage(text string, dest *models.User) error {
	return c.SendRequest(protocol.SendMessage, protocol.MessageContent{Text: text}, dest)
}

// SendRequest marshals content and sends one request record.
func (c *Client) SendRequest(t protocol.RequestType, content any, dest *models.User) error {
	req, err := protocol.NewRequest(t, content, dest)
	if err != nil {
		return err
	}
	return c.Send(req)
}

// Send writes one prebuilt request record.
func (c *Client) Send(req *protocol.Request) error {
	if err := protocol.WriteRequest(c.w, req); err != nil {
		return err
	}
	return c.w.Flush()
}

// Receive blocks for the next response record.
func (c *Client) Receive() (*protocol.Response, error) {
	return protocol.ReadResponse(c.r)
}
