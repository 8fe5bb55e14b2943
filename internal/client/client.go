// Package client orchestrates the two sequential TCP conversations the
// launcher has with the game's servers: the login handshake that trades
// credentials for a session key (CK2) and user id, and the patch-server
// exchange that resolves where the manifest actually lives. Both are
// strictly sequential over one connection each, unlike the fan-out
// internal/patcher uses for the download phase itself.
package client

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"midaslauncher/internal/dml"
	"midaslauncher/internal/rec1"
	"midaslauncher/internal/schema"
	"midaslauncher/internal/transport"
	"midaslauncher/internal/xerrors"
)

const recvTimeout = 15 * time.Second

// machineID is a fixed placeholder GID, matching the original client's own
// hardcoded value — there's no real machine-fingerprinting in scope here.
const machineID = 80202068872285

// patchClientID is the original client's fixed patch-client identity
// string, sent verbatim as part of the auth record.
const patchClientID = "{C622962F-82EB-40D2-8915-613F91B87F52}:{HW-ID-SMBIOS}"

// LoginResult carries the artifacts of a successful Handshake: the
// decrypted session key and the numeric user id, both needed for the
// launch handoff (BuildLaunchArgs).
type LoginResult struct {
	CK2    string
	UserID uint64
}

// Handshake performs the full login exchange: connect, receive the
// server's SessionOffer, reply with a SESSION_ACCEPT control packet
// echoing its session id alongside the client's current wall-clock time
// (see sessionAcceptFrame), send MSG_USER_AUTHEN_V3 carrying
// a freshly encrypted Rec1 built from username/password, then decrypt the
// server's returned Rec1 to recover CK2 and parse the numeric UserID.
func Handshake(ctx context.Context, addr string, cat *schema.Catalog, username, password string) (*LoginResult, error) {
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	offer, err := recvSessionOffer(conn)
	if err != nil {
		return nil, err
	}
	log.Printf("[Client] login session offer: sid=%d time_low=%d time_milli=%d", offer.Sid, offer.TimeLow, offer.TimeMilli)

	accept, err := sessionAcceptFrame(offer)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(accept); err != nil {
		return nil, err
	}

	timeSecs := uint32(offer.TimeLow)
	blob, err := rec1.GenRec1(username, password, offer.Sid, timeSecs, offer.TimeMilli)
	if err != nil {
		return nil, fmt.Errorf("client: building rec1: %w", err)
	}

	authen, err := dml.Serialize(cat, "MSG_USER_AUTHEN_V3", []dml.Arg{
		dml.RawStr(blob),
		dml.Str(""),
		dml.Str(""),
		dml.Str(""),
		dml.Str(""),
		dml.Gid(machineID),
		dml.Str("English"),
		dml.Str(patchClientID),
		dml.Uint(0),
	})
	if err != nil {
		return nil, fmt.Errorf("client: serializing auth request: %w", err)
	}
	if err := conn.Send(authen); err != nil {
		return nil, err
	}

	raw, err := conn.Recv(recvTimeout)
	if err != nil {
		return nil, err
	}
	resp, err := dml.Deserialize(raw, cat, true)
	if err != nil {
		return nil, fmt.Errorf("client: decoding auth response: %w", err)
	}

	var serverRec1 []byte
	if arg, ok := resp.Get("Rec1"); ok {
		serverRec1 = arg.Bytes()
	}
	var reason []byte
	if arg, ok := resp.Get("Reason"); ok {
		reason = arg.Bytes()
	}
	if len(serverRec1) == 0 {
		if len(reason) > 0 {
			return nil, fmt.Errorf("client: login rejected: %s: %w", string(reason), xerrors.AuthRejected)
		}
		return nil, fmt.Errorf("client: empty Rec1 with no Reason: %w", xerrors.AuthRejected)
	}

	var uid uint64
	if arg, ok := resp.Get("UserID"); ok {
		uid, err = strconv.ParseUint(string(arg.Bytes()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("client: parsing UserID: %w", xerrors.AuthRejected)
		}
	}
	if uid == 0 {
		return nil, fmt.Errorf("client: server returned zero UserID: %w", xerrors.AuthRejected)
	}

	ck2, err := rec1.DecryptRec1(serverRec1, offer.Sid, timeSecs, offer.TimeMilli)
	if err != nil {
		return nil, fmt.Errorf("client: decrypting server rec1: %w", err)
	}

	return &LoginResult{CK2: ck2, UserID: uid}, nil
}

// ManifestInfo is the patch server's answer to MSG_LATEST_FILE_LIST_V2:
// where to fetch the manifest itself, and the URL prefix every PatchFile
// entry's src_name is relative to.
type ManifestInfo struct {
	ListFileURL string
	URLPrefix   string
}

// FetchManifestInfo connects to the patch server, waits for its
// SessionOffer (no reply is sent back on this connection, unlike the
// login flow), asks for the latest file list, and extracts the URLs from
// the response.
func FetchManifestInfo(ctx context.Context, addr string, cat *schema.Catalog) (*ManifestInfo, error) {
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	offer, err := recvSessionOffer(conn)
	if err != nil {
		return nil, err
	}
	log.Printf("[Client] patch session offer: sid=%d time_low=%d time_milli=%d", offer.Sid, offer.TimeLow, offer.TimeMilli)

	req, err := dml.Serialize(cat, "MSG_LATEST_FILE_LIST_V2", []dml.Arg{
		dml.Uint(0),
		dml.Str(""),
		dml.Uint(0),
		dml.Uint(0),
		dml.Uint(1),
		dml.Uint(0),
		dml.Str(""),
		dml.Str(""),
		dml.Str(""),
		dml.Str("English"),
	})
	if err != nil {
		return nil, fmt.Errorf("client: serializing file list request: %w", err)
	}
	if err := conn.Send(req); err != nil {
		return nil, err
	}

	raw, err := conn.Recv(recvTimeout)
	if err != nil {
		return nil, err
	}
	resp, err := dml.Deserialize(raw, cat, false)
	if err != nil {
		return nil, fmt.Errorf("client: decoding file list response: %w", err)
	}

	info := &ManifestInfo{}
	if arg, ok := resp.Get("ListFileURL"); ok {
		info.ListFileURL = arg.String()
	}
	if arg, ok := resp.Get("URLPrefix"); ok {
		info.URLPrefix = arg.String()
	}
	log.Printf("[Client] got latest file list: %s", info.ListFileURL)
	return info, nil
}

// BuildLaunchArgs builds the argument vector for the downstream game
// client process: "-L {login_host} {login_port} -U ..{uid} {ck2}
// {username}". Spawning the process itself is out of scope.
func BuildLaunchArgs(loginHost string, loginPort int, uid uint64, ck2, username string) []string {
	return []string{
		"-L", loginHost, strconv.Itoa(loginPort),
		"-U", fmt.Sprintf("..%d", uid), ck2, username,
	}
}

func recvSessionOffer(conn *transport.Conn) (*dml.SessionOffer, error) {
	raw, err := conn.Recv(recvTimeout)
	if err != nil {
		return nil, err
	}
	return dml.ParseSessionOffer(raw)
}

// sessionAcceptFrame builds the SESSION_ACCEPT (opcode 5) reply echoing
// the offer's session id and current wall-clock time, matching get_ck2's
// fixed argument list exactly.
func sessionAcceptFrame(offer *dml.SessionOffer) ([]byte, error) {
	now := time.Now()
	return dml.SerializeControl(0x5, []dml.Arg{
		dml.Ushrt(0),                         // reserved
		dml.Int(0),                           // time high
		dml.Int(int32(now.Unix())),           // time low
		dml.Uint(uint32(now.Nanosecond() / 1e6)), // time millis
		dml.Ushrt(offer.Sid),                 // sid
		dml.Uint(1),                          // data len
		dml.Ubyt(0),                          // data
		dml.Ubyt(0),                          // reserved
	})
}
