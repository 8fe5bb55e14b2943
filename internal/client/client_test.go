package client

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"midaslauncher/internal/dml"
	"midaslauncher/internal/rec1"
	"midaslauncher/internal/schema"
)

func testCatalog() *schema.Catalog {
	svc := &schema.Service{
		ID:   5,
		Name: "GAME",
		Messages: []schema.Message{
			{
				Name:  "MSG_USER_AUTHEN_V3",
				Order: 1,
				Args: []schema.Field{
					{Name: "Rec1", Typename: "STR"},
					{Name: "Version", Typename: "STR"},
					{Name: "Revision", Typename: "STR"},
					{Name: "DataRevision", Typename: "STR"},
					{Name: "CRC", Typename: "STR"},
					{Name: "MachineID", Typename: "GID"},
					{Name: "Locale", Typename: "STR"},
					{Name: "PatchClientID", Typename: "STR"},
					{Name: "IsSteamClient", Typename: "UINT"},
				},
			},
			{
				Name:  "MSG_USER_AUTHEN_RESPONSE",
				Order: 2,
				Args: []schema.Field{
					{Name: "Rec1", Typename: "STR"},
					{Name: "Reason", Typename: "STR"},
					{Name: "UserID", Typename: "STR"},
				},
			},
			{
				Name:  "MSG_LATEST_FILE_LIST_V2",
				Order: 3,
				Args: []schema.Field{
					{Name: "A", Typename: "UINT"},
					{Name: "B", Typename: "STR"},
					{Name: "C", Typename: "UINT"},
					{Name: "D", Typename: "UINT"},
					{Name: "E", Typename: "UINT"},
					{Name: "F", Typename: "UINT"},
					{Name: "G", Typename: "STR"},
					{Name: "H", Typename: "STR"},
					{Name: "I", Typename: "STR"},
					{Name: "Locale", Typename: "STR"},
				},
			},
			{
				Name:  "MSG_LATEST_FILE_LIST_RESPONSE",
				Order: 4,
				Args: []schema.Field{
					{Name: "ListFileURL", Typename: "STR"},
					{Name: "URLPrefix", Typename: "STR"},
				},
			},
		},
	}
	return schema.NewCatalog(svc)
}

// rawSend writes a whole frame in one call, matching how a real server
// hands bytes to the kernel; rawRecv reads the 4-byte prefix then exactly
// as many more bytes as the stored length calls for, mirroring
// transport.Conn.Recv without depending on that package's unexported
// fields from here.
func rawSend(t *testing.T, conn net.Conn, frame []byte) {
	t.Helper()
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func rawRecv(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	prefix := make([]byte, 4)
	_, err := io.ReadFull(conn, prefix)
	require.NoError(t, err)
	length := binary.LittleEndian.Uint16(prefix[2:4])
	rest := make([]byte, length)
	if length > 0 {
		_, err = io.ReadFull(conn, rest)
		require.NoError(t, err)
	}
	return append(prefix, rest...)
}

func buildSessionOfferFrame(sid uint16, timeSecs uint32, timeMilli uint32) []byte {
	const total = 27
	const lengthField = total - 4
	raw := make([]byte, total)
	binary.LittleEndian.PutUint16(raw[0:2], dml.Magic)
	binary.LittleEndian.PutUint16(raw[2:4], lengthField)
	raw[4] = 1 // is_control
	raw[5] = 0 // opcode
	binary.LittleEndian.PutUint16(raw[8:10], sid)
	binary.LittleEndian.PutUint32(raw[10:14], 0) // time_high
	binary.LittleEndian.PutUint32(raw[14:18], timeSecs)
	binary.LittleEndian.PutUint32(raw[18:22], timeMilli)
	binary.LittleEndian.PutUint32(raw[22:26], 1) // length
	raw[26] = 0                                  // null_term
	return raw
}

func listenLoopback(t *testing.T) (addr string, accept func() net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			connCh <- c
		}
	}()
	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for connection")
			return nil
		}
	}
}

func TestHandshakeSuccess(t *testing.T) {
	addr, accept := listenLoopback(t)
	cat := testCatalog()

	const sid = 0x22
	const timeSecs = 0x40302010
	const timeMilli = 0x1ED

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn := accept()
		defer conn.Close()

		rawSend(t, conn, buildSessionOfferFrame(sid, timeSecs, timeMilli))
		_ = rawRecv(t, conn) // drain the SESSION_ACCEPT reply

		_ = rawRecv(t, conn) // the MSG_USER_AUTHEN_V3 request

		serverBlob, err := rec1.EncryptRec1(sid, "unused", "FAKECK2TOKEN", timeSecs, timeMilli)
		require.NoError(t, err)

		resp, err := dml.Serialize(cat, "MSG_USER_AUTHEN_RESPONSE", []dml.Arg{
			dml.RawStr(serverBlob),
			dml.Str(""),
			dml.Str("12345"),
		})
		require.NoError(t, err)
		rawSend(t, conn, resp)
	}()

	result, err := Handshake(context.Background(), addr, cat, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, uint64(12345), result.UserID)
	require.Contains(t, result.CK2, "FAKECK2TOKEN")

	<-serverDone
}

func TestHandshakeRejectedWithReason(t *testing.T) {
	addr, accept := listenLoopback(t)
	cat := testCatalog()

	const sid = 0x01
	const timeSecs = 100
	const timeMilli = 5

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn := accept()
		defer conn.Close()

		rawSend(t, conn, buildSessionOfferFrame(sid, timeSecs, timeMilli))
		_ = rawRecv(t, conn)
		_ = rawRecv(t, conn)

		resp, err := dml.Serialize(cat, "MSG_USER_AUTHEN_RESPONSE", []dml.Arg{
			dml.Str(""),
			dml.Str("bad password"),
			dml.Str("0"),
		})
		require.NoError(t, err)
		rawSend(t, conn, resp)
	}()

	_, err := Handshake(context.Background(), addr, cat, "alice", "wrong")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad password")

	<-serverDone
}

func TestFetchManifestInfo(t *testing.T) {
	addr, accept := listenLoopback(t)
	cat := testCatalog()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn := accept()
		defer conn.Close()

		rawSend(t, conn, buildSessionOfferFrame(0x10, 1000, 0))
		_ = rawRecv(t, conn) // the MSG_LATEST_FILE_LIST_V2 request

		resp, err := dml.Serialize(cat, "MSG_LATEST_FILE_LIST_RESPONSE", []dml.Arg{
			dml.Str("http://patch.example.com/LatestFileList.bin"),
			dml.Str("http://patch.example.com/files"),
		})
		require.NoError(t, err)
		rawSend(t, conn, resp)
	}()

	info, err := FetchManifestInfo(context.Background(), addr, cat)
	require.NoError(t, err)
	require.Equal(t, "http://patch.example.com/LatestFileList.bin", info.ListFileURL)
	require.Equal(t, "http://patch.example.com/files", info.URLPrefix)

	<-serverDone
}

func TestBuildLaunchArgs(t *testing.T) {
	args := BuildLaunchArgs("165.193.63.4", 12000, 99, "CK2TOKEN", "alice")
	require.Equal(t, []string{"-L", "165.193.63.4", "12000", "-U", "..99", "CK2TOKEN", "alice"}, args)
}
