package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"midaslauncher/internal/xerrors"
)

const sampleDoc = `<GameMessages>
  <_ProtocolInfo>
    <RECORD>
      <ServiceID TYPE="UBYT">5</ServiceID>
      <ProtocolType TYPE="STR">GAME</ProtocolType>
      <ProtocolVersion TYPE="INT">1</ProtocolVersion>
      <ProtocolDescription TYPE="STR">Game Messages</ProtocolDescription>
    </RECORD>
  </_ProtocolInfo>
  <MSG_PING>
    <RECORD>
      <_MsgName TYPE="STR" NOXFER="TRUE">MSG_PING</_MsgName>
      <_MsgDescription TYPE="STR" NOXFER="TRUE">ping</_MsgDescription>
      <_MsgHandler TYPE="STR" NOXFER="TRUE">MSG_Ping</_MsgHandler>
      <_MsgOrder TYPE="INT">1</_MsgOrder>
    </RECORD>
  </MSG_PING>
  <MSG_LATEST_FILE_LIST_V2>
    <RECORD>
      <_MsgName TYPE="STR" NOXFER="TRUE">MSG_LATEST_FILE_LIST_V2</_MsgName>
      <_MsgDescription TYPE="STR" NOXFER="TRUE">file list</_MsgDescription>
      <_MsgHandler TYPE="STR" NOXFER="TRUE">MSG_LatestFileListV2</_MsgHandler>
      <_MsgOrder TYPE="INT">2</_MsgOrder>
      <BuildVersion TYPE="UINT"></BuildVersion>
      <Locale TYPE="STR"></Locale>
    </RECORD>
  </MSG_LATEST_FILE_LIST_V2>
</GameMessages>`

func TestParseDocumentOrdersByMsgOrder(t *testing.T) {
	svc, err := parseDocument([]byte(sampleDoc))
	require.NoError(t, err)

	require.Equal(t, uint8(5), svc.ID)
	require.Equal(t, "GAME", svc.Name)
	require.Equal(t, int32(1), svc.Version)
	require.Len(t, svc.Messages, 2)
	require.Equal(t, "MSG_PING", svc.Messages[0].Name)
	require.Equal(t, "MSG_LATEST_FILE_LIST_V2", svc.Messages[1].Name)

	idx, msg, ok := svc.MessageIndex("MSG_LATEST_FILE_LIST_V2")
	require.True(t, ok)
	require.Equal(t, 2, idx)
	require.Len(t, msg.Args, 2)
	require.Equal(t, "BuildVersion", msg.Args[0].Name)
	require.Equal(t, "UINT", msg.Args[0].Typename)
}

const lexicalDoc = `<GameMessages>
  <_ProtocolInfo>
    <RECORD>
      <ServiceID TYPE="UBYT">9</ServiceID>
      <ProtocolType TYPE="STR">AUTH</ProtocolType>
      <ProtocolVersion TYPE="INT">1</ProtocolVersion>
      <ProtocolDescription TYPE="STR">Auth</ProtocolDescription>
    </RECORD>
  </_ProtocolInfo>
  <MSG_ZEBRA>
    <RECORD>
      <_MsgOrder TYPE="INT">-1</_MsgOrder>
    </RECORD>
  </MSG_ZEBRA>
  <MSG_APPLE>
    <RECORD>
      <_MsgOrder TYPE="INT">-1</_MsgOrder>
    </RECORD>
  </MSG_APPLE>
</GameMessages>`

func TestParseDocumentFallsBackToLexicalOrder(t *testing.T) {
	svc, err := parseDocument([]byte(lexicalDoc))
	require.NoError(t, err)
	require.Len(t, svc.Messages, 2)
	require.Equal(t, "MSG_APPLE", svc.Messages[0].Name)
	require.Equal(t, "MSG_ZEBRA", svc.Messages[1].Name)
}

const badTypenameDoc = `<GameMessages>
  <_ProtocolInfo>
    <RECORD>
      <ServiceID TYPE="UBYT">5</ServiceID>
      <ProtocolType TYPE="STR">GAME</ProtocolType>
      <ProtocolVersion TYPE="INT">1</ProtocolVersion>
      <ProtocolDescription TYPE="STR">Game Messages</ProtocolDescription>
    </RECORD>
  </_ProtocolInfo>
  <MSG_PING>
    <RECORD>
      <_MsgOrder TYPE="INT">1</_MsgOrder>
      <Bogus TYPE="NOT_A_REAL_TYPE">1</Bogus>
    </RECORD>
  </MSG_PING>
</GameMessages>`

func TestParseDocumentRejectsUnknownTypename(t *testing.T) {
	_, err := parseDocument([]byte(badTypenameDoc))
	require.Error(t, err)
	require.ErrorIs(t, err, xerrors.UnsupportedType)
}
