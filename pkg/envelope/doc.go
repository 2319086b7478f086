// Package envelope строит и разбирает текстовые конверты RCS сообщений:
// CPIM, IMDN отчеты, XML геолокации, resource-lists, описание файла
// FT-HTTP и части multipart тел.
//
// Ошибки разбора не возвращаются как error: функции разбора отдают
// (значение, false) или nil, и вызывающий код применяет свой fallback.
package envelope
