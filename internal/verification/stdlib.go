package verification

// stdlibModules lists the top-level modules shipped with CPython 3.8 through 3.13.
var stdlibModules = []string{
	"__future__", "_thread", "abc", "aifc", "argparse", "array", "ast", "asynchat", "asyncio",
	"asyncore", "atexit", "audioop", "base64", "bdb", "binascii", "bisect", "builtins", "bz2",
	"calendar", "cgi", "cgitb", "chunk", "cmath", "cmd", "code", "codecs", "codeop",
	"collections", "colorsys", "compileall", "concurrent", "configparser", "contextlib",
	"contextvars", "copy", "copyreg", "cProfile", "crypt", "csv", "ctypes", "curses",
	"dataclasses", "datetime", "dbm", "decimal", "difflib", "dis", "distutils", "doctest",
	"email", "encodings", "ensurepip", "enum", "errno", "faulthandler", "fcntl", "filecmp",
	"fileinput", "fnmatch", "fractions", "ftplib", "functools", "gc", "getopt", "getpass",
	"gettext", "glob", "graphlib", "grp", "gzip", "hashlib", "heapq", "hmac", "html", "http",
	"idlelib", "imaplib", "imghdr", "imp", "importlib", "inspect", "io", "ipaddress",
	"itertools", "json", "keyword", "lib2to3", "linecache", "locale", "logging", "lzma",
	"mailbox", "mailcap", "marshal", "math", "mimetypes", "mmap", "modulefinder", "msilib",
	"msvcrt", "multiprocessing", "netrc", "nis", "nntplib", "numbers", "operator", "optparse",
	"os", "ossaudiodev", "pathlib", "pdb", "pickle", "pickletools", "pipes", "pkgutil",
	"platform", "plistlib", "poplib", "posix", "posixpath", "ntpath", "pprint", "profile",
	"pstats", "pty", "pwd", "py_compile", "pyclbr", "pydoc", "queue", "quopri", "random",
	"re", "readline", "reprlib", "resource", "rlcompleter", "runpy", "sched", "secrets",
	"select", "selectors", "shelve", "shlex", "shutil", "signal", "site", "smtpd", "smtplib",
	"sndhdr", "socket", "socketserver", "spwd", "sqlite3", "ssl", "stat", "statistics",
	"string", "stringprep", "struct", "subprocess", "sunau", "symtable", "sys", "sysconfig",
	"syslog", "tabnanny", "tarfile", "telnetlib", "tempfile", "termios", "textwrap",
	"threading", "time", "timeit", "tkinter", "token", "tokenize", "tomllib", "trace",
	"traceback", "tracemalloc", "tty", "turtle", "turtledemo", "types", "typing",
	"unicodedata", "unittest", "urllib", "uu", "uuid", "venv", "warnings", "wave", "weakref",
	"webbrowser", "winreg", "winsound", "wsgiref", "xdrlib", "xml", "xmlrpc", "zipapp",
	"zipfile", "zipimport", "zlib", "zoneinfo",
}

// knownAliases maps normalized distribution names to the modules they install when the two
// differ.
var knownAliases = map[string][]string{
	"beautifulsoup4":           {"bs4"},
	"pyyaml":                   {"yaml"},
	"python_dotenv":            {"dotenv"},
	"scikit_learn":             {"sklearn"},
	"pillow":                   {"PIL"},
	"opencv_python":            {"cv2"},
	"opencv_python_headless":   {"cv2"},
	"python_dateutil":          {"dateutil"},
	"pymupdf":                  {"fitz"},
	"attrs":                    {"attr", "attrs"},
	"protobuf":                 {"google"},
	"google_generativeai":      {"google"},
	"google_genai":             {"google"},
	"google_api_python_client": {"googleapiclient"},
	"python_multipart":         {"multipart"},
	"psycopg2_binary":          {"psycopg2"},
	"psycopg_binary":           {"psycopg"},
	"pyjwt":                    {"jwt"},
	"faiss_cpu":                {"faiss"},
	"faiss_gpu":                {"faiss"},
	"discord.py":               {"discord"},
	"python_telegram_bot":      {"telegram"},
	"pytelegrambotapi":         {"telebot"},
	"pycryptodome":             {"Crypto"},
	"pyserial":                 {"serial"},
	"pyzmq":                    {"zmq"},
	"mysql_connector_python":   {"mysql"},
	"typing_extensions":        {"typing_extensions"},
	"tavily_python":            {"tavily"},
	"duckduckgo_search":        {"duckduckgo_search"},
	"sentence_transformers":    {"sentence_transformers"},
	"markdown":                 {"markdown"},
	"websocket_client":         {"websocket"},
	"msgpack_python":           {"msgpack"},
}
