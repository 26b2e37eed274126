// Package cookies imports cookies from browser stores into a cookiejar.Jar.
// It reads Firefox (moz_cookies) and Chrome (cookies, unencrypted values
// only) SQLite databases and Netscape cookie text files.
//
// Cookie values are never logged. Only names and domains appear in debug
// output.
package cookies
