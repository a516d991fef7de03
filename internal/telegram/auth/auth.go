// Package auth — интерактивный слой авторизации аккаунтов на базе gotd.
// Терминальный аутентификатор читает код подтверждения и пароль 2FA из
// консоли; headless-вариант используется на серверах без оператора и вместо
// запроса ввода возвращает ошибку, оставляя аккаунт ждать ручной авторизации.
package auth

import (
	"context"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"telegram-forwarder/internal/infra/pr"
)

// ErrHeadless сигнализирует, что интерактивный ввод недоступен и аккаунт
// требует авторизации через админ-бота.
var ErrHeadless = errors.New("interactive input is disabled in headless mode")

// readLine выводит приглашение, читает строку из общего readline и обрезает
// пробелы по краям.
func readLine(prompt string) (string, error) {
	pr.SetPrompt(prompt)
	line, err := pr.Rl().Readline()
	return strings.TrimSpace(line), err
}

// Terminal реализует auth.UserAuthenticator для интерактивного входа:
// номер известен заранее, код и пароль 2FA запрашиваются в консоли.
type Terminal struct {
	PhoneNumber string
}

// Phone возвращает заранее известный номер телефона. Формат не проверяется;
// ожидается E.164.
func (t Terminal) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code запрашивает код подтверждения у оператора.
func (t Terminal) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code for " + t.PhoneNumber + ": ")
}

// Password считывает пароль 2FA без отображения вводимых символов.
func (t Terminal) Password(_ context.Context) (string, error) {
	pr.Print("Enter 2FA password for " + t.PhoneNumber + ": ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService выводит текст условий использования и запрашивает
// согласие. Принимаются только ответы "y"/"Y".
func (t Terminal) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp не поддерживается: движок работает только с уже зарегистрированными
// аккаунтами.
func (t Terminal) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up of new accounts is not supported")
}

// Headless реализует auth.UserAuthenticator для окружений без консоли.
// Любой запрос интерактивного ввода завершается ErrHeadless.
type Headless struct {
	PhoneNumber string
}

// Phone возвращает номер телефона аккаунта.
func (h Headless) Phone(_ context.Context) (string, error) {
	return h.PhoneNumber, nil
}

// Code недоступен в headless-режиме.
func (h Headless) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return "", ErrHeadless
}

// Password недоступен в headless-режиме.
func (h Headless) Password(_ context.Context) (string, error) {
	return "", ErrHeadless
}

// AcceptTermsOfService в headless-режиме молча соглашается: отклонение
// заблокировало бы уже авторизованный аккаунт без участия оператора.
func (h Headless) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

// SignUp не поддерживается.
func (h Headless) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up of new accounts is not supported")
}

// Authenticator выбирает реализацию по режиму работы процесса.
func Authenticator(phone string, headless bool) auth.UserAuthenticator {
	if headless {
		return Headless{PhoneNumber: phone}
	}
	return Terminal{PhoneNumber: phone}
}
