package main

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"osmium/cli"
	"osmium/httpmsg"
	"osmium/mux"
	"osmium/transcode"
)

const VERSION = "1.0.0"

func main() {
	conf, err := GetConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if conf.Logging.AccessLog != "" {
		AccessLogFile = conf.Logging.AccessLog
	}
	if conf.Logging.ErrorLog != "" {
		ErrorLogFile = conf.Logging.ErrorLog
	}

	addr := fmt.Sprintf(":%d", conf.Server.Port)
	var listener net.Listener
	if conf.Server.TLS.Enabled {
		cert, err := loadOrCreateCert(conf.Server.TLS)
		if err != nil {
			ErrorLog(err)
			os.Exit(1)
		}
		listener, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			ErrorLog(err)
			os.Exit(1)
		}
	} else {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			ErrorLog(err)
			os.Exit(1)
		}
	}

	fmt.Printf("Osmium %s listening on %s (mux v%d), upstream %s\n",
		VERSION, addr, conf.Server.MuxVersion, conf.Upstream.Address)
	for {
		conn, err := listener.Accept()
		if err != nil {
			ErrorLog(err)
			continue
		}
		go handleConnection(conn, conf)
	}
}

func loadOrCreateCert(tc TLSConfig) (tls.Certificate, error) {
	certFile := tc.Domain + ".crt"
	keyFile := tc.Domain + ".key"
	if _, err := os.Stat(certFile); errors.Is(err, os.ErrNotExist) {
		if tc.Provider == "acme" {
			if err := cli.GenerateACMECert(tc.Domain); err != nil {
				return tls.Certificate{}, err
			}
		} else {
			if err := cli.GenerateSelfSignedCert(tc.Domain); err != nil {
				return tls.Certificate{}, err
			}
		}
	}
	return tls.LoadX509KeyPair(certFile, keyFile)
}

// handleConnection runs one multiplexed connection: frames are decoded
// into requests, forwarded to the upstream origin over HTTP/1.1, and the
// responses encoded back into frames. All per-connection state (stream
// table, transcoding sessions, hpack tables) lives and dies here.
func handleConnection(conn net.Conn, conf Config) {
	defer conn.Close()

	framer := mux.NewFramer(conn, conn)
	streamDec, err := mux.NewStreamDecoder(conf.Server.MuxVersion, conf.Server.MaxContentLength)
	if err != nil {
		ErrorLog(err)
		return
	}
	streamEnc, err := mux.NewStreamEncoder(conf.Server.MuxVersion)
	if err != nil {
		ErrorLog(err)
		return
	}

	contentDec := transcode.NewDecoder(transcode.NewDecompressor)
	contentEnc := transcode.NewEncoder(transcode.DefaultCompressor)
	// Codec adapters and stream state must not outlive the connection.
	defer contentDec.Close()
	defer contentEnc.Close()
	defer streamDec.Reset()

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ErrorLog(err)
			}
			return
		}
		msgs, replies, err := streamDec.Decode(frame)
		for _, reply := range replies {
			if werr := framer.WriteFrame(reply); werr != nil {
				ErrorLog(werr)
				return
			}
		}
		if err != nil {
			// A stream blew the configured size limit; its state is
			// already evicted, we choose to drop the connection too.
			ErrorLog(err)
			return
		}
		if len(msgs) == 0 {
			continue
		}
		if err := serveExchange(conn.RemoteAddr().String(), framer, conf, msgs, contentDec, contentEnc, streamEnc); err != nil {
			ErrorLog(err)
			return
		}
	}
}

// serveExchange carries one completed request through the body decoder,
// the upstream origin, the body encoder, and back out as frames.
func serveExchange(remote string, framer *mux.Framer, conf Config, msgs []httpmsg.Message,
	contentDec *transcode.Decoder, contentEnc *transcode.Encoder, streamEnc *mux.StreamEncoder) error {

	var req *httpmsg.HeaderMessage
	var body []byte
	for _, m := range msgs {
		out, err := contentDec.Decode(m)
		if err != nil {
			return err
		}
		for _, o := range out {
			switch v := o.(type) {
			case *httpmsg.HeaderMessage:
				req = v
			case *httpmsg.BodyChunk:
				body = append(body, v.Data...)
			}
		}
	}
	if req == nil || !req.IsRequest() {
		return fmt.Errorf("stream did not yield a request")
	}

	RequestLog(req.Method, req.Target, req.Version, remote)
	contentEnc.ObserveRequest(req)

	streamID := req.Headers.Get(mux.HeaderStreamID)
	req.Headers.Del(mux.HeaderStreamID)
	// The gateway negotiates its own coding with the client; the origin
	// always gets an uncompressed exchange.
	req.Headers.Del(httpmsg.HeaderAcceptEncoding)

	up, err := net.Dial("tcp", conf.Upstream.Address)
	if err != nil {
		return fmt.Errorf("failed to reach upstream: %v", err)
	}
	defer up.Close()

	if err := WriteRequest(up, req, body); err != nil {
		return err
	}
	resp, respBody, err := ReadResponse(bufio.NewReader(up))
	if err != nil {
		return err
	}
	resp.Headers.Set(mux.HeaderStreamID, streamID)

	var outbound []httpmsg.Message
	encoded, err := contentEnc.Encode(resp)
	if err != nil {
		return err
	}
	outbound = append(outbound, encoded...)
	encoded, err = contentEnc.Encode(&httpmsg.BodyChunk{Data: respBody, Final: true})
	if err != nil {
		return err
	}
	outbound = append(outbound, encoded...)

	for _, m := range outbound {
		frames, err := streamEnc.Encode(m)
		if err != nil {
			return err
		}
		for _, f := range frames {
			if err := framer.WriteFrame(f); err != nil {
				return err
			}
		}
	}
	return nil
}
