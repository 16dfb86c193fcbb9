package keygate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowtv/streamgate/internal/commitment"
	"github.com/yellowtv/streamgate/internal/keys"
	"github.com/yellowtv/streamgate/internal/ledger"
	"github.com/yellowtv/streamgate/pkg/models"
)

type fakeVideoSource struct {
	videos map[string]*models.Video
}

func (f *fakeVideoSource) GetVideo(_ context.Context, id string) (*models.Video, error) {
	video, ok := f.videos[id]
	if !ok {
		return nil, fmt.Errorf("video not found")
	}
	return video, nil
}

type fakeTokenSource struct {
	tokens  map[string]*models.LegacyToken
	now     time.Time
	counted map[string]int64
}

func (f *fakeTokenSource) Get(_ context.Context, id string) (*models.LegacyToken, error) {
	token, ok := f.tokens[id]
	if !ok || token.Expired(f.now) {
		return nil, nil
	}
	return token, nil
}

func (f *fakeTokenSource) IncrementAccess(_ context.Context, id string) (int64, error) {
	if f.counted == nil {
		f.counted = make(map[string]int64)
	}
	f.counted[id]++
	return f.counted[id], nil
}

type gateFixture struct {
	gate     *Gate
	registry *ledger.Registry
	tokens   *fakeTokenSource
	video    *models.Video
	secret   []byte
}

func newGateFixture(t *testing.T, totalSegments int) *gateFixture {
	t.Helper()

	kek := bytes.Repeat([]byte{0x11}, keys.KEKSize)
	secret, err := keys.NewMasterSecret()
	require.NoError(t, err)

	material, err := keys.DeriveAllSegmentKeys(secret, "video-1", totalSegments)
	require.NoError(t, err)
	tree, err := commitment.Build(material)
	require.NoError(t, err)
	serialized, err := tree.Serialize()
	require.NoError(t, err)
	encryptedSecret, err := keys.EncryptMasterSecret(kek, secret)
	require.NoError(t, err)

	video := &models.Video{
		ID:                    "video-1",
		CreatorAddress:        "0xcreator",
		TotalSegments:         totalSegments,
		SegmentDuration:       6.0,
		MerkleRoot:            tree.Root().Hex(),
		SerializedTree:        serialized,
		MasterSecretEncrypted: encryptedSecret,
		PricePerSegment:       decimal.RequireFromString("0.01"),
		Status:                models.VideoStatusProcessed,
	}

	registry := ledger.NewRegistry(nil, zerolog.Nop())
	tokens := &fakeTokenSource{
		tokens: make(map[string]*models.LegacyToken),
		now:    time.Now(),
	}

	return &gateFixture{
		gate:     New(&fakeVideoSource{videos: map[string]*models.Video{"video-1": video}}, registry, tokens, kek, zerolog.Nop()),
		registry: registry,
		tokens:   tokens,
		video:    video,
		secret:   secret,
	}
}

func (f *gateFixture) openSession(t *testing.T, deposit string) *models.LedgerSession {
	t.Helper()
	session, err := f.registry.Open("video-1", "0xviewer", "0xcreator", "0xserver",
		decimal.RequireFromString(deposit), f.video.PricePerSegment)
	require.NoError(t, err)
	return session
}

func denied(t *testing.T, err error) *DeniedError {
	t.Helper()
	var deniedErr *DeniedError
	require.True(t, errors.As(err, &deniedErr), "expected DeniedError, got %v", err)
	return deniedErr
}

func TestMeteredPath_GrantsAndDebits(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.10")

	material, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 2,
		AuthContext{SessionID: session.ID}, false)
	require.NoError(t, err)

	expected, err := keys.DeriveSegmentKeyMaterial(f.secret, "video-1", 2)
	require.NoError(t, err)
	assert.Equal(t, expected.Key, material.Key)
	assert.Equal(t, expected.IV, material.IV)
	assert.Equal(t, 2, material.SegmentIndex)
	assert.Nil(t, material.Proof)

	current, ok := f.registry.Lookup(session.ID)
	require.True(t, ok)
	assert.EqualValues(t, 1, current.SegmentsDelivered)
	assert.Equal(t, "0.09", current.ViewerBalance.StringFixed(2))
}

func TestMeteredPath_WithProof(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.10")

	material, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 3,
		AuthContext{SessionID: session.ID}, true)
	require.NoError(t, err)
	require.NotEmpty(t, material.Proof)

	tree, err := commitment.Deserialize(f.video.SerializedTree)
	require.NoError(t, err)
	km := keys.SegmentKeyMaterial{Key: material.Key, IV: material.IV}
	assert.True(t, commitment.Verify(tree.Root(), 5, 3, km, material.Proof))
}

func TestMeteredPath_InsufficientBalance(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.02")

	for i := 0; i < 2; i++ {
		_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", i,
			AuthContext{SessionID: session.ID}, false)
		require.NoError(t, err)
	}

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 2,
		AuthContext{SessionID: session.ID}, false)
	deniedErr := denied(t, err)
	assert.Equal(t, DenialInsufficientBalance, deniedErr.Reason)
	assert.Equal(t, "0.00", deniedErr.ViewerBalance.StringFixed(2))
	assert.Equal(t, "0.01", deniedErr.PricePerSegment.StringFixed(2))
}

func TestMeteredPath_UnknownSession(t *testing.T) {
	f := newGateFixture(t, 5)

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0,
		AuthContext{SessionID: "no-such-session"}, false)
	assert.Equal(t, DenialInvalidSession, denied(t, err).Reason)
}

func TestMeteredPath_WrongVideo(t *testing.T) {
	f := newGateFixture(t, 5)

	other, err := f.registry.Open("video-2", "0xviewer", "0xcreator", "0xserver",
		decimal.RequireFromString("1"), decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	_, err = f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0,
		AuthContext{SessionID: other.ID}, false)
	assert.Equal(t, DenialInvalidSession, denied(t, err).Reason)
}

func TestMeteredPath_ClosedSession(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.10")

	_, err := f.registry.Close(context.Background(), session.ID)
	require.NoError(t, err)

	_, err = f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0,
		AuthContext{SessionID: session.ID}, false)
	assert.Equal(t, DenialExpiredSession, denied(t, err).Reason)
}

func TestLegacyPath_Grants(t *testing.T) {
	f := newGateFixture(t, 5)
	f.tokens.tokens["tok-1"] = &models.LegacyToken{
		ID:        "tok-1",
		VideoID:   "video-1",
		ExpiresAt: f.tokens.now.Add(time.Hour),
	}

	material, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 1,
		AuthContext{BearerToken: "tok-1"}, false)
	require.NoError(t, err)

	expected, err := keys.DeriveSegmentKeyMaterial(f.secret, "video-1", 1)
	require.NoError(t, err)
	assert.Equal(t, expected.Key, material.Key)
	assert.EqualValues(t, 1, f.tokens.counted["tok-1"], "access counter is advisory but still incremented")
}

func TestLegacyPath_Expired(t *testing.T) {
	f := newGateFixture(t, 5)
	f.tokens.tokens["tok-1"] = &models.LegacyToken{
		ID:        "tok-1",
		VideoID:   "video-1",
		ExpiresAt: f.tokens.now.Add(-time.Minute),
	}

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 1,
		AuthContext{BearerToken: "tok-1"}, false)
	assert.Equal(t, DenialExpiredSession, denied(t, err).Reason)
}

func TestLegacyPath_WrongVideo(t *testing.T) {
	f := newGateFixture(t, 5)
	f.tokens.tokens["tok-1"] = &models.LegacyToken{
		ID:        "tok-1",
		VideoID:   "video-2",
		ExpiresAt: f.tokens.now.Add(time.Hour),
	}

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 1,
		AuthContext{BearerToken: "tok-1"}, false)
	assert.Equal(t, DenialExpiredSession, denied(t, err).Reason)
}

func TestNoAuth_PaymentRequired(t *testing.T) {
	f := newGateFixture(t, 5)

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0, AuthContext{}, false)
	deniedErr := denied(t, err)
	assert.Equal(t, DenialPaymentRequired, deniedErr.Reason)
	assert.Equal(t, "0.01", deniedErr.PricePerSegment.StringFixed(2))
}

func TestIndexOutOfRange_BeforeAuth(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.10")

	// Out of range fails the same way with valid auth, invalid auth and no
	// auth at all, and never debits the session.
	for _, auth := range []AuthContext{
		{SessionID: session.ID},
		{BearerToken: "garbage"},
		{},
	} {
		_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 5, auth, false)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}

	current, ok := f.registry.Lookup(session.ID)
	require.True(t, ok)
	assert.EqualValues(t, 0, current.SegmentsDelivered)
}

func TestVideoNotFound(t *testing.T) {
	f := newGateFixture(t, 5)

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "no-such-video", 0, AuthContext{}, false)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestVideoNotProcessed(t *testing.T) {
	f := newGateFixture(t, 5)
	f.video.Status = models.VideoStatusProcessing

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0, AuthContext{}, false)
	assert.ErrorIs(t, err, ErrVideoNotProcessed)
}

func TestKeyDerivationFailure_CorruptSecret(t *testing.T) {
	f := newGateFixture(t, 5)
	session := f.openSession(t, "0.10")

	f.video.MasterSecretEncrypted[len(f.video.MasterSecretEncrypted)-1] ^= 0x01

	_, err := f.gate.AuthorizeAndDeriveKey(context.Background(), "video-1", 0,
		AuthContext{SessionID: session.ID}, false)
	assert.ErrorIs(t, err, ErrKeyDerivation)
}
