package user

import "context"

// Repository defines the contract for user persistence.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
}
