package meeting

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrUserExists      = errors.New("user with this email already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrMeetingNotFound = errors.New("meeting not found")
)

// User is an account that can own meeting-history records.
type User struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
	CreatedAt    time.Time
}

// Meeting is one meeting-history record, keyed by owner and meeting code.
type Meeting struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Code      string `gorm:"index"`
	Status    string
	CreatedAt time.Time
}

const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Store persists users and meeting history in SQLite.
//
// Room state is deliberately NOT stored here; only the meeting-history
// records that outlive a call survive a process restart.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Meeting{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateUser(u *User) error {
	var count int64
	if err := s.db.Model(&User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrUserExists
	}
	if err := s.db.Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) FindUserByEmail(email string) (*User, error) {
	var u User
	if err := s.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUserByID(id string) (*User, error) {
	var u User
	if err := s.db.Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *Store) AddMeeting(m *Meeting) error {
	if err := s.db.Create(m).Error; err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	return nil
}

// MeetingsByUser returns the user's meeting history, newest first.
func (s *Store) MeetingsByUser(userID string) ([]Meeting, error) {
	var meetings []Meeting
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&meetings).Error; err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}

func (s *Store) findMeeting(userID, code string) (*Meeting, error) {
	var m Meeting
	if err := s.db.Where("user_id = ? AND code = ?", userID, code).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, fmt.Errorf("find meeting: %w", err)
	}
	return &m, nil
}

// EndMeeting marks the user's meeting record as ended.
func (s *Store) EndMeeting(userID, code string) error {
	m, err := s.findMeeting(userID, code)
	if err != nil {
		return err
	}
	if err := s.db.Model(m).Update("status", StatusEnded).Error; err != nil {
		return fmt.Errorf("end meeting: %w", err)
	}
	return nil
}

// DeleteMeeting removes the user's meeting record.
func (s *Store) DeleteMeeting(userID, code string) error {
	m, err := s.findMeeting(userID, code)
	if err != nil {
		return err
	}
	if err := s.db.Delete(m).Error; err != nil {
		return fmt.Errorf("delete meeting: %w", err)
	}
	return nil
}
