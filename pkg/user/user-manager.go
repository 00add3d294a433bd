// Package user keeps the API accounts of the service in a password file of
// "username:bcrypt-hash" lines.
package user

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type UserManager struct {
	PwFile string
	// Cost is the bcrypt cost of new hashes; zero means hashCost.
	Cost int

	mu    sync.RWMutex
	users map[string]string // keys: username / values: password hash
	// verified remembers the digest of the last password that matched each
	// user, so bcrypt runs once per password rather than once per request.
	verified map[string][sha256.Size]byte
}

type Credential struct {
	Username string
	Password string
}

var (
	ErrInvalidUsername     = errors.New("username is invalid. it can contains letters, numbers and underscores but should starts with a letter")
	ErrUsernameExists      = errors.New("username exists")
	ErrUnknownUser         = errors.New("username does not exist")
	ErrPasswordMismatch    = errors.New("password does not match")
	ErrPwFileContentFormat = errors.New("something is wrong with the password file content format")
)

const (
	columnSep  = ":"
	hashCost   = 14
	pwFileMode = 0600
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z]\w*$`)

// New loads pwFile, creating it when missing.
func New(pwFile string) (*UserManager, error) {
	m := &UserManager{PwFile: pwFile}
	if err := m.Init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *UserManager) Init() error {
	users := make(map[string]string)

	f, err := os.OpenFile(m.PwFile, os.O_CREATE|os.O_RDONLY, pwFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		userFields := strings.Split(line, columnSep)
		if len(userFields) != 2 || userFields[0] == "" || userFields[1] == "" {
			subErr := fmt.Errorf("(len: %d, fields: %v)", len(userFields), userFields)
			return errors.Join(ErrPwFileContentFormat, subErr)
		}
		users[userFields[0]] = userFields[1]
	}

	err = scanner.Err()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.users = users
	m.verified = make(map[string][sha256.Size]byte)
	m.mu.Unlock()
	return nil
}

// Len returns the number of accounts.
func (m *UserManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func (m *UserManager) CreateUser(cred Credential) error {
	if !usernameRegex.MatchString(cred.Username) {
		return ErrInvalidUsername
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[cred.Username]; ok {
		return ErrUsernameExists
	}

	hashPass, err := m.hashPassword(cred.Password)
	if err != nil {
		return err
	}

	userRecord := cred.Username + columnSep + hashPass + "\n"
	f, err := os.OpenFile(m.PwFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, pwFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(userRecord)
	if err != nil {
		return err
	}

	if m.users == nil {
		m.users = make(map[string]string)
	}
	m.users[cred.Username] = hashPass
	return nil
}

// PromptCredential asks for a new username and a confirmed password.
func (m *UserManager) PromptCredential(in io.Reader, out io.Writer) (Credential, error) {
	var cred Credential
	scanner := bufio.NewScanner(in)
	read := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	for {
		username, err := read("Enter username: ")
		if err != nil {
			return cred, err
		}
		m.mu.RLock()
		_, exists := m.users[username]
		m.mu.RUnlock()
		switch {
		case !usernameRegex.MatchString(username):
			fmt.Fprintln(out, ErrInvalidUsername)
		case exists:
			fmt.Fprintln(out, ErrUsernameExists)
		default:
			cred.Username = username
		}
		if cred.Username != "" {
			break
		}
	}

	password, err := read(fmt.Sprintf("Password for %s: ", cred.Username))
	if err != nil {
		return cred, err
	}
	confirm, err := read(fmt.Sprintf("Confirm password for %s: ", cred.Username))
	if err != nil {
		return cred, err
	}
	if password != confirm {
		return cred, ErrPasswordMismatch
	}
	cred.Password = password
	return cred, nil
}

func (m *UserManager) DeleteUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return ErrUnknownUser
	}

	originalPw, err := os.OpenFile(m.PwFile, os.O_RDONLY, pwFileMode)
	if err != nil {
		return err
	}
	defer originalPw.Close()

	tmpPw, err := os.CreateTemp(filepath.Dir(m.PwFile), "pwfile_*.tmp")
	if err != nil {
		return err
	}
	defer tmpPw.Close()
	defer os.Remove(tmpPw.Name())

	scanner := bufio.NewScanner(originalPw)
	writer := bufio.NewWriter(tmpPw)

	for scanner.Scan() {
		line := scanner.Text()
		userFields := strings.Split(line, columnSep)

		if len(userFields) != 2 || userFields[0] == "" || userFields[1] == "" || userFields[0] == username {
			continue
		}

		_, err = writer.WriteString(line + "\n")
		if err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	if err := os.Rename(tmpPw.Name(), m.PwFile); err != nil {
		return err
	}

	if err := os.Chmod(m.PwFile, pwFileMode); err != nil {
		return err
	}

	delete(m.users, username)
	delete(m.verified, username)
	return nil
}

func (m *UserManager) CheckUserPassword(username, password string) bool {
	digest := sha256.Sum256([]byte(password))

	m.mu.RLock()
	passwordHash, ok := m.users[username]
	known, cached := m.verified[username]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	if cached && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		return true
	}
	if !m.checkPasswordHash(password, passwordHash) {
		return false
	}

	m.mu.Lock()
	if m.users[username] == passwordHash {
		if m.verified == nil {
			m.verified = make(map[string][sha256.Size]byte)
		}
		m.verified[username] = digest
	}
	m.mu.Unlock()
	return true
}

func (m *UserManager) hashPassword(password string) (string, error) {
	cost := m.Cost
	if cost == 0 {
		cost = hashCost
	}
	byts, err := bcrypt.GenerateFromPassword([]byte(password), cost)

	return string(byts), err
}

func (m *UserManager) checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
