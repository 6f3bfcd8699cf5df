// Package channel implements the Fenris secure channel: a handshake that
// establishes a shared session key over a plain net.Conn, and framed,
// compressed, AEAD-sealed message exchange once the handshake completes.
package channel

import (
	"fmt"
	"io"

	"github.com/fenrisnet/fenris/internal/compression"
	fcrypto "github.com/fenrisnet/fenris/internal/crypto"
	"github.com/fenrisnet/fenris/internal/ferr"
	"github.com/fenrisnet/fenris/internal/wire"
)

// DefaultKeyContext is the HKDF context label used to derive the AEAD
// session key when the caller doesn't supply one.
const DefaultKeyContext = "fenris-aes-key"

// SecureChannel owns the raw stream, the derived session key, and the
// crypto/compression capabilities used to seal and open every message
// exchanged after the handshake. It is not safe for concurrent use: one
// logical sender and one logical receiver per direction, matching the
// request/response nature of the protocol it carries.
type SecureChannel struct {
	stream     io.ReadWriter
	suite      fcrypto.Suite
	compressor compression.Compressor
	sessionKey []byte
}

// ClientHandshake performs the client side of the handshake: generate a
// keypair, send the public key, receive the server's public key, derive
// the session key.
func ClientHandshake(stream io.ReadWriter, suite fcrypto.Suite, compressor compression.Compressor, keyContext string) (*SecureChannel, error) {
	if keyContext == "" {
		keyContext = DefaultKeyContext
	}

	priv, pub, err := suite.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := wire.Send(stream, pub); err != nil {
		return nil, ferr.Wrap(ferr.KindNetwork, "send client public key", err)
	}

	peerPub, err := wire.Receive(stream)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindNetwork, "receive server public key", err)
	}

	sessionKey, err := suite.DeriveSessionKey(priv, peerPub, []byte(keyContext))
	if err != nil {
		return nil, err
	}

	return &SecureChannel{
		stream:     stream,
		suite:      suite,
		compressor: compressor,
		sessionKey: sessionKey,
	}, nil
}

// ServerHandshake performs the server side of the handshake: receive the
// client's public key first, then send its own — this ordering is part
// of the wire contract and must not be swapped.
func ServerHandshake(stream io.ReadWriter, suite fcrypto.Suite, compressor compression.Compressor, keyContext string) (*SecureChannel, error) {
	if keyContext == "" {
		keyContext = DefaultKeyContext
	}

	peerPub, err := wire.Receive(stream)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindNetwork, "receive client public key", err)
	}

	priv, pub, err := suite.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := wire.Send(stream, pub); err != nil {
		return nil, ferr.Wrap(ferr.KindNetwork, "send server public key", err)
	}

	sessionKey, err := suite.DeriveSessionKey(priv, peerPub, []byte(keyContext))
	if err != nil {
		return nil, err
	}

	return &SecureChannel{
		stream:     stream,
		suite:      suite,
		compressor: compressor,
		sessionKey: sessionKey,
	}, nil
}

// sendRaw compresses, seals, and frame-sends an already-serialized message.
func (c *SecureChannel) sendRaw(serialized []byte) error {
	compressed, err := c.compressor.Compress(serialized)
	if err != nil {
		return err
	}

	sealed, err := c.suite.Seal(compressed, c.sessionKey)
	if err != nil {
		return err
	}

	if err := wire.Send(c.stream, sealed); err != nil {
		return ferr.Wrap(ferr.KindNetwork, "send message frame", err)
	}
	return nil
}

// recvRaw frame-receives, opens, and decompresses one sealed message,
// returning the serialized payload.
func (c *SecureChannel) recvRaw() ([]byte, error) {
	sealed, err := wire.Receive(c.stream)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindNetwork, "receive message frame", err)
	}

	compressed, err := c.suite.Open(sealed, c.sessionKey)
	if err != nil {
		return nil, err
	}

	serialized, err := c.compressor.Decompress(compressed)
	if err != nil {
		return nil, err
	}
	return serialized, nil
}

// SendRequest serializes, compresses, and seals a Request onto the wire.
func (c *SecureChannel) SendRequest(req *wire.Request) error {
	return c.sendRaw(req.Encode())
}

// RecvRequest receives and decodes one Request.
func (c *SecureChannel) RecvRequest() (*wire.Request, error) {
	serialized, err := c.recvRaw()
	if err != nil {
		return nil, err
	}
	req, err := wire.DecodeRequest(serialized)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindSerialization, "decode request", err)
	}
	return req, nil
}

// SendResponse serializes, compresses, and seals a Response onto the wire.
func (c *SecureChannel) SendResponse(resp *wire.Response) error {
	return c.sendRaw(resp.Encode())
}

// RecvResponse receives and decodes one Response.
func (c *SecureChannel) RecvResponse() (*wire.Response, error) {
	serialized, err := c.recvRaw()
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeResponse(serialized)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindSerialization, "decode response", err)
	}
	return resp, nil
}

// Close closes the underlying stream if it implements io.Closer.
func (c *SecureChannel) Close() error {
	if closer, ok := c.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *SecureChannel) String() string {
	return fmt.Sprintf("SecureChannel{compressor=%s}", c.compressor.Name())
}
