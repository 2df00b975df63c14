package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
)

func TestReachedMatchesCount(t *testing.T) {
	for members := 1; members <= 6; members++ {
		for k := 1; k <= members; k++ {
			for joined := 0; joined <= members; joined++ {
				assert.Equal(t, joined >= k, Reached(k, joined),
					"k=%d n=%d joined=%d", k, members, joined)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts k within members", func(t *testing.T) {
		assert.NoError(t, Validate(1, 1))
		assert.NoError(t, Validate(2, 3))
		assert.NoError(t, Validate(3, 3))
	})

	t.Run("rejects non-positive threshold", func(t *testing.T) {
		assert.ErrorIs(t, Validate(0, 3), models.ErrInvalidThreshold)
		assert.ErrorIs(t, Validate(-1, 3), models.ErrInvalidThreshold)
	})

	t.Run("threshold above member count is a configuration error", func(t *testing.T) {
		assert.ErrorIs(t, Validate(3, 2), models.ErrThresholdExceedsMembers)
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "2", want: 2},
		{raw: " 3 ", want: 3},
		{raw: "", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "two", wantErr: true},
		{raw: "1/2", wantErr: true},
		{raw: `["1/2","1/2"]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrInvalidThreshold)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinedCount(t *testing.T) {
	assert.Equal(t, 0, JoinedCount(nil))
	assert.Equal(t, 2, JoinedCount([]*models.MemberInfo{
		{MemberID: domain.AID("EAlice"), Joined: true},
		{MemberID: domain.AID("EBob"), Joined: true},
		{MemberID: domain.AID("EAlice"), Joined: true},
		{MemberID: domain.AID("ECarol")},
	}))
}
