package authtest

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-finance-client/session"
	"golang.org/x/crypto/bcrypt"
)

// User is an account known to the fake API
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string // empty for Google-only accounts
	Verified     bool
	GoogleLinked bool
	DateJoined   time.Time
	LastLogin    time.Time
}

// Profile is the public view of the user returned by the API
func (u *User) Profile() *session.Profile {
	return &session.Profile{ID: u.ID, Name: u.Name, Email: u.Email}
}

// UserSpec seeds an account with AddUser
type UserSpec struct {
	Name     string
	Email    string
	Password string
	// Unverified accounts are refused at login with requiresVerification.
	Unverified bool
	// GoogleLinked accounts are refused at password login with useGoogleAuth.
	GoogleLinked bool
}

// bcrypt.MinCost keeps seeded accounts fast to create in tests
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type userRepo struct {
	users    map[string]*User
	emailIDs map[string]string // email to user id
	lock     sync.RWMutex
}

func newUserRepo() *userRepo {
	return &userRepo{
		users:    make(map[string]*User),
		emailIDs: make(map[string]string),
	}
}

func (ur *userRepo) upsert(user *User) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(user.Email)
	ur.users[user.ID] = user
	ur.emailIDs[user.Email] = user.ID
}

func (ur *userRepo) getByEmail(email string) (*User, bool) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIDs[strings.ToLower(email)]
	if !ok {
		return nil, false
	}
	return ur.copyOf(id)
}

func (ur *userRepo) getByID(id string) (*User, bool) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	return ur.copyOf(id)
}

// copyOf returns a snapshot so handlers never share a *User with writers
func (ur *userRepo) copyOf(id string) (*User, bool) {
	u, ok := ur.users[id]
	if !ok {
		return nil, false
	}
	c := *u
	return &c, true
}

func (ur *userRepo) update(id string, fn func(u *User)) bool {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if ok {
		fn(u)
	}
	return ok
}
