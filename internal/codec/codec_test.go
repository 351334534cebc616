package codec

import (
	"testing"

	"github.com/mossy-p/meshcall/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	_, err = ByName("protobuf")
	assert.Error(t, err)
}

func TestCodecs_PreserveSignalPayloads(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	offer := models.NewDescription("alice", "bob", webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n",
	})
	cand := models.NewCandidate("alice", "bob", webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 UDP 2130706431 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})

	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(offer)
			require.NoError(t, err)
			got, err := c.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, models.KindSignal, got.Kind)
			require.NotNil(t, got.SDP)
			assert.Equal(t, webrtc.SDPTypeOffer, got.SDP.Type)
			assert.Equal(t, offer.SDP.SDP, got.SDP.SDP)
			assert.Nil(t, got.Candidate)

			data, err = c.Marshal(cand)
			require.NoError(t, err)
			got, err = c.Unmarshal(data)
			require.NoError(t, err)
			require.NotNil(t, got.Candidate)
			assert.Equal(t, cand.Candidate.Candidate, got.Candidate.Candidate)
			require.NotNil(t, got.Candidate.SDPMid)
			assert.Equal(t, "0", *got.Candidate.SDPMid)
			assert.Equal(t, "bob", got.Target)
			assert.Equal(t, cand.ID, got.ID)
		})
	}
}

func TestJSON_RejectsUnknownKind(t *testing.T) {
	_, err := JSON{}.Unmarshal([]byte(`{"type":"hangup","sender":"a"}`))
	assert.Error(t, err)

	_, err = JSON{}.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
