// Package schema builds the in-memory message catalog that the DML codec
// decodes and encodes against. It is populated once, at startup, from the
// *Messages.xml documents embedded in the game's WAD archive, and is
// immutable thereafter.
package schema

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"midaslauncher/internal/wadarchive"
	"midaslauncher/internal/xerrors"
)

// typeSet is the fixed set of typenames the DML codec knows how to encode
// and decode. A Field whose TYPE attribute isn't in this set is a document
// error, caught here at load time rather than left to surface lazily the
// first time that field is actually encoded or decoded.
var typeSet = map[string]bool{
	"UBYT": true, "BYT": true,
	"USHRT": true, "SHRT": true,
	"UINT": true, "INT": true,
	"FLT": true, "GID": true,
	"STR": true, "WSTR": true,
}

// Field is one argument of a Message, typed over TypeSet.
type Field struct {
	Name     string
	Typename string
}

// Message is one wire-addressable record within a Service. Order is the
// document's declared _MsgOrder (or -1 if absent or unparseable). When the
// first message's Order is not positive, the catalog falls back to
// lexicographic ordering by Name — see sortMessages.
type Message struct {
	Name  string
	Order int32
	Args  []Field
}

// Service groups the messages belonging to one protocol/service id. The
// index of a Message within Messages (1-based) is its on-wire msg_type;
// this invariant is established once by sortMessages and never revisited.
type Service struct {
	ID          uint8
	Name        string
	Version     int32
	Description string
	Messages    []Message
}

// MessageIndex returns the 1-based wire index of the named message within
// this service, and the message itself.
func (s *Service) MessageIndex(name string) (int, *Message, bool) {
	for i := range s.Messages {
		if s.Messages[i].Name == name {
			return i + 1, &s.Messages[i], true
		}
	}
	return 0, nil, false
}

// Catalog maps service_id to Service, built once by Load.
type Catalog struct {
	Services map[uint8]*Service
	// byMessageName resolves a message name directly to its owning
	// service id, mirroring Service::message_table in the original.
	byMessageName map[string]uint8
}

// ServiceForMessage returns the service that owns the named message.
func (c *Catalog) ServiceForMessage(name string) (*Service, bool) {
	id, ok := c.byMessageName[name]
	if !ok {
		return nil, false
	}
	return c.Services[id], true
}

// NewCatalog builds a Catalog directly from a set of services, indexing
// byMessageName the same way Load does. Intended for callers (tests,
// synthetic fixtures) that already have Service values in hand rather than
// a WAD archive to parse.
func NewCatalog(services ...*Service) *Catalog {
	cat := &Catalog{
		Services:      make(map[uint8]*Service, len(services)),
		byMessageName: make(map[string]uint8),
	}
	for _, svc := range services {
		cat.Services[svc.ID] = svc
		for _, m := range svc.Messages {
			cat.byMessageName[m.Name] = svc.ID
		}
	}
	return cat
}

// Load finds every archive entry whose name ends in the given suffix
// (normally "Messages.xml"), parses each as a schema document, and merges
// the results into one Catalog. Multiple documents declaring the same
// ServiceID have their messages appended together (logged, not fatal),
// matching the original loader's behavior.
func Load(archive *wadarchive.Archive, suffix string) (*Catalog, error) {
	docs, err := archive.FilesWithSuffix(suffix)
	if err != nil {
		return nil, fmt.Errorf("schema: reading schema documents: %w", err)
	}

	cat := &Catalog{
		Services:      make(map[uint8]*Service),
		byMessageName: make(map[string]uint8),
	}

	for name, data := range docs {
		svc, err := parseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}

		if existing, ok := cat.Services[svc.ID]; ok {
			log.Printf("[Schema] service %d already exists, appending messages from %s", svc.ID, name)
			existing.Messages = append(existing.Messages, svc.Messages...)
		} else {
			cat.Services[svc.ID] = svc
		}
		for _, m := range svc.Messages {
			cat.byMessageName[m.Name] = svc.ID
		}
	}

	return cat, nil
}

func parseDocument(data []byte) (*Service, error) {
	root, err := parseXMLTree(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	protoInfo := root.childNamed("_ProtocolInfo")
	if protoInfo == nil {
		return nil, fmt.Errorf("schema: missing _ProtocolInfo element")
	}
	record := protoInfo.firstChild()
	if record == nil {
		return nil, fmt.Errorf("schema: _ProtocolInfo has no RECORD child")
	}

	svcID, err := strconv.ParseUint(record.valueOf("ServiceID"), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("schema: bad ServiceID: %w", err)
	}
	svcVersion, err := strconv.ParseInt(record.valueOf("ProtocolVersion"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("schema: bad ProtocolVersion: %w", err)
	}

	svc := &Service{
		ID:          uint8(svcID),
		Name:        record.valueOf("ProtocolType"),
		Version:     int32(svcVersion),
		Description: record.valueOf("ProtocolDescription"),
	}

	for _, msgNode := range root.Children {
		if msgNode.Name == "_ProtocolInfo" {
			continue
		}
		msg, err := parseMessage(msgNode)
		if err != nil {
			return nil, fmt.Errorf("schema: message %s: %w", msgNode.Name, err)
		}
		svc.Messages = append(svc.Messages, msg)
	}

	sortMessages(svc.Messages)
	return svc, nil
}

func parseMessage(msgNode *node) (Message, error) {
	record := msgNode.firstChild()
	if record == nil {
		return Message{}, fmt.Errorf("no RECORD child")
	}

	orderStr := record.valueOf("_MsgOrder")
	order, err := strconv.ParseInt(orderStr, 10, 32)
	if err != nil {
		order = -1
	}

	msg := Message{Name: msgNode.Name, Order: int32(order)}
	for _, arg := range record.Children {
		if strings.HasPrefix(arg.Name, "_Msg") || arg.Name == "" {
			continue
		}
		typename := arg.attr("TYPE")
		if typename == "" {
			typename = "Object has no typename...?"
		}
		if !typeSet[typename] {
			return Message{}, fmt.Errorf("field %s: typename %q: %w", arg.Name, typename, xerrors.UnsupportedType)
		}
		msg.Args = append(msg.Args, Field{Name: arg.Name, Typename: typename})
	}

	return msg, nil
}

// sortMessages establishes the 1-based wire index invariant: order by
// _MsgOrder if the first message's order is positive, else lexicographic
// by name. This mirrors the original's (arguably fragile) choice to check
// only msgs[0] rather than every message.
func sortMessages(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	if msgs[0].Order > 0 {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Order < msgs[j].Order })
	} else {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Name < msgs[j].Name })
	}
}
