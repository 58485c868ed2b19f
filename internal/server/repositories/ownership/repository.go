// Package ownership reassigns rows of other subsystems that reference a user
// through a foreign key. It is only used while merging two accounts.
package ownership

import "context"

type Repository interface {
	// ReassignArtists moves artists.added_by from one user to another.
	ReassignArtists(ctx context.Context, fromUserID, toUserID string) (int64, error)
	// ReassignContributions moves ugcresearch.user_id from one user to another.
	ReassignContributions(ctx context.Context, fromUserID, toUserID string) (int64, error)
}
