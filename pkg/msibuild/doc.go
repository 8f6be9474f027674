/*
Package msibuild drives the RustDesk MSI packaging workflow.

Theory Of Operations

The installer project lives in a git checkout next to a python
preprocessing script and an MSBuild solution. Building an installer for
a branded application is a fixed sequence of external commands, run
from that directory:

  1. (optional) `msbuild msi.sln /t:clean`
  2. `git restore .` to throw away the previous preprocessing output
  3. `python preprocess.py --arp -d <target dir> --version <version> --app-name <name> [--conn-type <type>]`
  4. `msbuild msi.sln -p:Configuration=Release -p:Platform=x64 /p:TargetVersion=Windows10`

By default a failing step does not stop the sequence. Each step's
outcome is logged and recorded in the Result. WithFailFast changes
that to stop at the first failure.

After MSBuild, the newest msi under bin/<platform>/<configuration> is
reported as the artifact, and optionally copied to an output
directory.

References

  1. https://learn.microsoft.com/en-us/visualstudio/msbuild/msbuild-command-line-reference
  2. https://learn.microsoft.com/en-us/windows/win32/msi/productversion

*/
package msibuild
